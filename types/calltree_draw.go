package types

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	gotypes "github.com/go-echarts/go-echarts/v2/types"
)

// Graph draws the call tree as a force layout. Library calls are drawn blue, regular
// calls green.
func (c *CallInfo) Graph() *charts.Graph {
	graph := charts.NewGraph()
	graph.SetGlobalOptions(
		charts.WithTitleOpts(opts.Title{
			Title:    "Call tree",
			Subtitle: fmt.Sprintf("%s, %d steps", c.Call.StorageAddress, c.TotalSteps()),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
	)
	nodes, links := c.graphData()
	graph.AddSeries("CallTree", nodes, links).SetSeriesOptions(
		charts.WithGraphChartOpts(opts.GraphChart{
			Force:  &opts.GraphForce{Repulsion: 1000, Gravity: 0.3},
			Layout: "force",
			Roam:   opts.Bool(true),
		}),
		charts.WithLabelOpts(opts.Label{Show: opts.Bool(true), Position: "right", Formatter: "{b}"}),
	)
	return graph
}

// RenderGraph writes the call tree graph as a standalone HTML page.
func (c *CallInfo) RenderGraph(w io.Writer) error {
	page := components.NewPage()
	page.AddCharts(c.Graph())
	return page.Render(w)
}

// graphData names nodes by their position in the tree ("0", "0.1", ...) since the same
// contract may be called more than once.
func (c *CallInfo) graphData() ([]opts.GraphNode, []opts.GraphLink) {
	nodes := make([]opts.GraphNode, 0)
	links := make([]opts.GraphLink, 0)
	var visit func(info *CallInfo, name, parent string)
	visit = func(info *CallInfo, name, parent string) {
		color := "green"
		if info.Call.CallType == CallTypeDelegate {
			color = "blue"
		}
		nodes = append(nodes, opts.GraphNode{
			Name:  name,
			Value: float32(info.Execution.Steps),
			Tooltip: &opts.Tooltip{
				Show: opts.Bool(true),
				Formatter: gotypes.FuncStr(fmt.Sprintf("Address: %s<br>Class: %s<br>Selector: %s<br>Steps: %d<br>Events: %d",
					info.Call.StorageAddress, info.ClassHash.String_short(), info.Call.EntryPointSelector, info.Execution.Steps, len(info.Execution.Events))),
			},
			ItemStyle: &opts.ItemStyle{
				Color: color,
			},
		})
		if parent != "" {
			links = append(links, opts.GraphLink{Source: parent, Target: name})
		}
		for i, inner := range info.InnerCalls {
			visit(inner, fmt.Sprintf("%s.%d", name, i), name)
		}
	}
	visit(c, "0", "")
	return nodes, links
}
