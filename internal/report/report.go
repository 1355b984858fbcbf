// Package report reads sweep grids from CSV and writes paths, sweep results
// and solved matrices as CSV or console tables.
package report

import (
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"gonum.org/v1/gonum/mat"

	"habitrobust/internal/dynamics"
	"habitrobust/internal/habit"
	"habitrobust/internal/sweep"
)

// LoadGridCSV reads sweep tuples from a CSV file with an alpha, psi, eta
// header in any column order.
func LoadGridCSV(path string) ([]sweep.Tuple, error) {
	// 1. Open file
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.TrimLeadingSpace = true

	// 2. Locate the three columns
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("read header: %w", err)
	}
	col := map[string]int{}
	for j, name := range header {
		col[strings.ToLower(strings.TrimSpace(name))] = j
	}
	for _, name := range []string{"alpha", "psi", "eta"} {
		if _, ok := col[name]; !ok {
			return nil, fmt.Errorf("%s: missing %q column", path, name)
		}
	}

	// 3. Read each data row
	var tuples []sweep.Tuple
	for row := 2; ; row++ {
		record, err := r.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read row %d: %w", row, err)
		}
		if len(record) == 1 && record[0] == "" {
			continue
		}

		var vals [3]float64
		for k, name := range []string{"alpha", "psi", "eta"} {
			s := record[col[name]]
			v, err := strconv.ParseFloat(s, 64)
			if err != nil {
				return nil, fmt.Errorf("parse %s at row %d (%q): %w", name, row, s, err)
			}
			vals[k] = v
		}
		tuples = append(tuples, sweep.Tuple{Alpha: vals[0], Psi: vals[1], Eta: vals[2]})
	}

	if len(tuples) == 0 {
		return nil, fmt.Errorf("no data rows in %s", path)
	}
	return tuples, nil
}

// WritePathCSV writes a response path in long format.
// Columns: Horizon, Income, Consumption, Ratio
func WritePathCSV(path string, p *dynamics.Path) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := writePath(file, p); err != nil {
		return err
	}
	return file.Close()
}

func writePath(w io.Writer, p *dynamics.Path) error {
	writer := csv.NewWriter(w)

	if err := writer.Write([]string{"Horizon", "Income", "Consumption", "Ratio"}); err != nil {
		return err
	}
	for t := range p.Income {
		rec := []string{
			strconv.Itoa(t),
			formatFloat(p.Income[t]),
			formatFloat(p.Consumption[t]),
			formatFloat(p.Ratio(t)),
		}
		if err := writer.Write(rec); err != nil {
			return err
		}
	}

	writer.Flush()
	return writer.Error()
}

// WriteSweepCSV writes one row per tuple and horizon for solved tuples and
// one row per failed tuple.
// Columns: Alpha, Psi, Eta, Status, Kind, Horizon, Income, Consumption,
// CoefficientOnH, Price, Message
func WriteSweepCSV(path string, r *sweep.Report) error {
	file, err := os.Create(path)
	if err != nil {
		return err
	}
	defer file.Close()

	if err := writeSweep(file, r); err != nil {
		return err
	}
	return file.Close()
}

func writeSweep(w io.Writer, r *sweep.Report) error {
	writer := csv.NewWriter(w)

	header := []string{
		"Alpha", "Psi", "Eta", "Status", "Kind",
		"Horizon", "Income", "Consumption", "CoefficientOnH", "Price", "Message",
	}
	if err := writer.Write(header); err != nil {
		return err
	}

	for _, res := range r.Results {
		t := res.Tuple
		prefix := []string{formatFloat(t.Alpha), formatFloat(t.Psi), formatFloat(t.Eta)}

		if !res.OK() {
			msg := ""
			if res.Err != nil {
				msg = res.Err.Error()
			}
			rec := append(prefix, "failed", res.Kind, "", "", "", "", "", msg)
			if err := writer.Write(rec); err != nil {
				return err
			}
			continue
		}

		ev := res.Evaluation
		price := formatVector(ev.Price)
		for h := range ev.Income {
			rec := append(append([]string(nil), prefix...),
				"ok", "",
				strconv.Itoa(h),
				formatFloat(ev.Income[h]),
				formatFloat(ev.Consumption[h]),
				formatFloat(ev.CoefficientOnH),
				price,
				"",
			)
			if err := writer.Write(rec); err != nil {
				return err
			}
		}
	}

	writer.Flush()
	return writer.Error()
}

// PrintMatrix prints a labelled matrix.
func PrintMatrix(w io.Writer, name string, m mat.Matrix) {
	fmt.Fprintf(w, "\n=== %s ===\n", name)
	fmt.Fprintf(w, "%v\n", mat.Formatted(m, mat.Prefix(" "), mat.Squeeze()))
}

// PrintPath prints a response path as a table.
func PrintPath(w io.Writer, p *dynamics.Path) {
	fmt.Fprintf(w, "\n=== Response to shock %d ===\n", p.Shock)
	fmt.Fprintf(w, "h\t%14s%14s%10s\n", "income", "consumption", "ratio")
	for t := range p.Income {
		fmt.Fprintf(w, "%d\t%14.8f%14.8f%10.4f\n", t, p.Income[t], p.Consumption[t], p.Ratio(t))
	}
}

// Summary prints the solved economy: steady state, stable roots and the
// state-space matrices.
func Summary(w io.Writer, b *habit.Baseline) {
	if b == nil {
		fmt.Fprintln(w, "model is not solved")
		return
	}
	p, ss, sol, dyn := b.Params, b.System.Steady, b.Solution, b.Dynamics

	fmt.Fprintln(w, "         Habit-persistence LQ Summary      ")
	fmt.Fprintf(w, "alpha = %g  eta = %g  psi = %g  delta = %g  nu = %g\n",
		p.Alpha, p.Eta, p.Psi, p.Delta, p.Nu)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Balanced growth:")
	fmt.Fprintf(w, "  h = %.6f  share_c = %.6f  share_h = %.6f\n", ss.H, ss.ShareC, ss.ShareH)
	fmt.Fprintf(w, "  mc = %.6f  mh = %.6f\n", ss.MC, ss.MH)
	fmt.Fprintln(w)

	fmt.Fprintf(w, "Stability threshold: %.6f\n", sol.Threshold)
	fmt.Fprintf(w, "  stable roots:   %s\n", formatComplex(sol.Stable))
	fmt.Fprintf(w, "  unstable roots: %s\n", formatComplex(sol.Unstable))
	fmt.Fprintf(w, "  residual:       %.3e\n", sol.Residual)

	PrintMatrix(w, "J (co-states on states)", sol.J)
	PrintMatrix(w, "A (state transition)", dyn.A)
	PrintMatrix(w, "B (shock loading)", dyn.B)

	fmt.Fprintf(w, "\nSc = %s\n", formatVector(dyn.Sc))
	fmt.Fprintf(w, "Su = %s\n", formatVector(dyn.Su))
	fmt.Fprintf(w, "coefficient on habit: %.8f\n", b.CoefficientOnH())
	fmt.Fprintln(w, "=======================================")
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', 12, 64)
}

func formatVector(v []float64) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = formatFloat(x)
	}
	return "[" + strings.Join(parts, " ") + "]"
}

func formatComplex(v []complex128) string {
	parts := make([]string, len(v))
	for i, z := range v {
		if imag(z) == 0 {
			parts[i] = fmt.Sprintf("%.6f", real(z))
		} else {
			parts[i] = fmt.Sprintf("%.6f%+.6fi", real(z), imag(z))
		}
	}
	return strings.Join(parts, ", ")
}
