package main

import (
	"fmt"
	"io"
	"math"
	"os"
	"text/tabwriter"

	"github.com/guptarohit/asciigraph"
	"github.com/spf13/cobra"

	"github.com/san-kum/kppsim/internal/analysis"
	"github.com/san-kum/kppsim/internal/engine"
	"github.com/san-kum/kppsim/internal/storage"
)

// openRun loads the run named in args, or the latest run.
func openRun(args []string) (*storage.Store, *storage.RunMetadata, error) {
	st := storage.New(dataDir)
	if len(args) == 0 {
		meta, err := st.Latest()
		return st, meta, err
	}
	meta, err := st.Load(args[0])
	return st, meta, err
}

func listRuns(cmd *cobra.Command, args []string) error {
	st := storage.New(dataDir)
	runs, err := st.List()
	if err != nil {
		return err
	}

	if len(runs) == 0 {
		fmt.Println("no runs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tSTARTED\tSTEPS\tDT\tRECORDED\tSTATE")

	for _, run := range runs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%.4fs\t%d\t%s\n",
			run.ID,
			run.Name,
			run.Started.Local().Format("2006-01-02 15:04:05"),
			run.Steps,
			run.Dt,
			run.Recorded,
			run.FinalState,
		)
	}

	return w.Flush()
}

func plotRun(cmd *cobra.Command, args []string) error {
	st, meta, err := openRun(args)
	if err != nil {
		return err
	}
	data, err := st.LoadSeries(meta.ID)
	if err != nil {
		return err
	}
	if data.Len() < 2 {
		return fmt.Errorf("no data to plot")
	}

	fmt.Printf("run: %s\n", meta.ID)
	fmt.Printf("name: %s\n", meta.Name)
	fmt.Printf("samples: %d\n\n", data.Len())

	for _, name := range plotSeries {
		values, err := data.Get(name)
		if err != nil {
			return err
		}
		caption := name
		if f, ok := engine.LookupField(name); ok && f.Unit != "" {
			caption = fmt.Sprintf("%s [%s]", name, f.Unit)
		}
		graph := asciigraph.Plot(finite(values),
			asciigraph.Height(10),
			asciigraph.Width(80),
			asciigraph.Caption(caption),
		)
		fmt.Println(graph)
		fmt.Println()
	}
	return nil
}

// finite replaces NaN and Inf cells with the previous value so a plot is
// never empty.
func finite(x []float64) []float64 {
	out := make([]float64, len(x))
	last := 0.0
	for i, v := range x {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			v = last
		}
		out[i], last = v, v
	}
	return out
}

func analyzeRun(cmd *cobra.Command, args []string) error {
	st, meta, err := openRun(args)
	if err != nil {
		return err
	}
	data, err := st.LoadSeries(meta.ID)
	if err != nil {
		return err
	}
	times, err := data.Get("time")
	if err != nil {
		return err
	}
	if len(times) < 4 {
		return fmt.Errorf("no data")
	}

	gaps := make([]float64, len(times)-1)
	for i := 1; i < len(times); i++ {
		gaps[i-1] = times[i] - times[i-1]
	}
	sampling, uniform := analysis.Uniform(gaps)

	fmt.Printf("frequency analysis: %s\n", meta.ID)
	fmt.Printf("name: %s\n", meta.Name)
	if !uniform {
		fmt.Println("sampling is not uniform (adaptive dt); spectrum skipped")
	}
	fmt.Println()

	for _, name := range analyzeSeries {
		values, err := data.Get(name)
		if err != nil {
			return err
		}
		values = finite(values)
		sum := analysis.Summarize(values)
		fmt.Printf("%s: n=%d mean=%.4g std=%.4g min=%.4g max=%.4g rms=%.4g\n",
			name, sum.N, sum.Mean, sum.Std, sum.Min, sum.Max, sum.RMS)
		if !uniform {
			continue
		}

		ps := analysis.PowerSpectrum(values, sampling)
		if len(ps.Power) < 4 {
			continue
		}
		plotData := ps.Power[1 : len(ps.Power)/4+1]
		graph := asciigraph.Plot(plotData,
			asciigraph.Height(15),
			asciigraph.Width(80),
			asciigraph.Caption(fmt.Sprintf("power spectrum (%s) up to %.2f hz", name, ps.Freq[len(ps.Power)/4])),
		)
		fmt.Println(graph)
		fmt.Println()

		freq := ps.Dominant()
		fmt.Printf("dominant frequency: %.3f hz\n", freq)
		if freq > 0 {
			fmt.Printf("period: %.3f s\n", 1.0/freq)
		}
		fmt.Println()
	}
	return nil
}

func exportRun(cmd *cobra.Command, args []string) error {
	st, meta, err := openRun(args)
	if err != nil {
		return err
	}

	var w io.Writer = os.Stdout
	if outFile != "" {
		f, err := os.Create(outFile)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}
	if err := st.Export(w, meta.ID, exportSeries...); err != nil {
		return err
	}
	if outFile != "" {
		fmt.Printf("exported %s to %s\n", meta.ID, outFile)
	}
	return nil
}
