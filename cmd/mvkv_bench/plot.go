//go:build unix

package main

import (
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

// plotResults draws one group of bars per operation, one bar per engine.
func plotResults(path string, results []result) error {
	p := plot.New()
	p.Title.Text = "mean latency per operation"
	p.Y.Label.Text = "ns"

	w := vg.Points(18)
	for i, r := range results {
		vals := plotter.Values{
			float64(r.put.Nanoseconds()),
			float64(r.get.Nanoseconds()),
			float64(r.scan.Nanoseconds()),
		}
		bars, err := plotter.NewBarChart(vals, w)
		if err != nil {
			return err
		}
		bars.LineStyle.Width = vg.Length(0)
		bars.Color = plotutil.Color(i)
		bars.Offset = w * vg.Length(i-len(results)/2)
		p.Add(bars)
		p.Legend.Add(r.engine, bars)
	}
	p.Legend.Top = true
	p.NominalX("put", "get", "scan")
	return p.Save(6*vg.Inch, 4*vg.Inch, path)
}
