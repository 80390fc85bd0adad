// CIR Reader - Utility to display contents of CIR Monitor CSV captures
// This program reads exported capture files and displays per-field
// statistics and an ASCII graph of a selected field over time.
package main

import (
	"encoding/csv"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"cir-monitor/internal/telemetry"
	"cir-monitor/internal/version"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

var (
	showRows    bool
	showStats   bool
	showGraph   bool
	graphField  string
	graphWidth  int
	graphHeight int
	showVersion bool
)

// capture holds a decoded CSV export
type capture struct {
	fields  []telemetry.Field
	indices []uint64
	seconds []float64 // epoch seconds per row
	values  map[telemetry.Field][]float64
}

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "cir-reader [file.csv]",
	Short: "Display contents of CIR Monitor capture files",
	Long: `CIR Reader displays the sample data from CIR Monitor CSV captures.
Useful for inspecting exported telemetry and verifying a recording session.

Display modes:
  --rows       Show all decoded sample rows
  --stats      Show per-field statistical analysis
  --graph      Generate ASCII graph of a field over time`,
	Args: cobra.MaximumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		// Handle version flag
		if showVersion {
			fmt.Println(version.GetVersionInfo("CIR Reader"))
			return
		}

		// Require filename if not showing version
		if len(args) == 0 {
			fmt.Fprintf(os.Stderr, "Error: filename required\n")
			cmd.Usage()
			os.Exit(1)
		}

		if err := displayFile(args[0]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	rootCmd.Flags().BoolVar(&showVersion, "version", false, "show version information")
	rootCmd.Flags().BoolVarP(&showRows, "rows", "s", false, "display all decoded sample rows")
	rootCmd.Flags().BoolVar(&showStats, "stats", false, "show per-field statistical analysis")
	rootCmd.Flags().BoolVarP(&showGraph, "graph", "g", false, "generate ASCII graph of a field over time")
	rootCmd.Flags().StringVar(&graphField, "field", "D", "field to graph")
	rootCmd.Flags().IntVar(&graphWidth, "graph-width", 80, "width of the ASCII graph in characters")
	rootCmd.Flags().IntVar(&graphHeight, "graph-height", 20, "height of the ASCII graph in lines")
}

// displayFile reads and displays the contents of a capture file
func displayFile(filename string) error {
	fileInfo, err := os.Stat(filename)
	if os.IsNotExist(err) {
		return fmt.Errorf("file does not exist: %s", filename)
	}
	if err != nil {
		return err
	}

	rec, err := readCapture(filename)
	if err != nil {
		return fmt.Errorf("failed to read capture: %w", err)
	}

	fmt.Printf("CIR CAPTURE READER %s\n\n", version.GetFullVersion())

	fmt.Printf("📁 File Information:\n")
	fmt.Printf("Name: %s\n", filepath.Base(filename))
	fmt.Printf("Size: %s (%s bytes)\n", humanize.Bytes(uint64(fileInfo.Size())), humanize.Comma(fileInfo.Size()))
	fmt.Printf("Modified: %s\n\n", fileInfo.ModTime().Format("2006-01-02 15:04:05"))

	displayCaptureInfo(rec)

	if showRows {
		displayRows(rec)
	}

	if showGraph {
		field := telemetry.Field(graphField)
		if !telemetry.IsKnown(graphField) {
			return fmt.Errorf("unknown field: %s (known: %v)", graphField, telemetry.Fields())
		}
		displayGraph(rec, field)
	}

	if showStats {
		displayStatistics(rec)
	}

	return nil
}

// readCapture parses a CSV export into memory. Empty cells decode to NaN
// so missing readings stay distinguishable from zero.
func readCapture(filename string) (*capture, error) {
	file, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	r := csv.NewReader(file)
	header, err := r.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	if len(header) < 3 || header[0] != "SampleIndex" {
		return nil, fmt.Errorf("not a CIR capture: unexpected header %v", header)
	}

	rec := &capture{values: make(map[telemetry.Field][]float64)}
	for _, name := range header[3:] {
		if !telemetry.IsKnown(name) {
			return nil, fmt.Errorf("not a CIR capture: unknown field column %q", name)
		}
		rec.fields = append(rec.fields, telemetry.Field(name))
	}

	for {
		record, err := r.Read()
		if err != nil {
			break // EOF or malformed trailing data
		}
		if len(record) != len(header) {
			continue
		}

		index, err := strconv.ParseUint(record[0], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid sample index %q: %w", record[0], err)
		}
		secs, err := strconv.ParseFloat(record[1], 64)
		if err != nil {
			return nil, fmt.Errorf("invalid timestamp %q: %w", record[1], err)
		}

		rec.indices = append(rec.indices, index)
		rec.seconds = append(rec.seconds, secs)
		for i, f := range rec.fields {
			cell := record[3+i]
			if cell == "" {
				rec.values[f] = append(rec.values[f], telemetry.Missing)
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				v = telemetry.Missing
			}
			rec.values[f] = append(rec.values[f], v)
		}
	}

	return rec, nil
}

// displayCaptureInfo shows information about the recorded samples
func displayCaptureInfo(rec *capture) {
	fmt.Printf("📡 Capture Information:\n")
	fmt.Printf("Total Samples: %s\n", humanize.Comma(int64(len(rec.indices))))
	fmt.Printf("Fields: %d", len(rec.fields))
	names := make([]string, len(rec.fields))
	for i, f := range rec.fields {
		names[i] = string(f)
	}
	fmt.Printf(" (%s)\n", strings.Join(names, ", "))

	if len(rec.seconds) > 1 {
		duration := rec.seconds[len(rec.seconds)-1] - rec.seconds[0]
		fmt.Printf("Recording Duration: %.3f seconds\n", duration)
		if duration > 0 {
			fmt.Printf("Average Rate: %.1f samples/s\n", float64(len(rec.seconds)-1)/duration)
		}
	}
	fmt.Println()
}

// displayRows prints every decoded sample row
func displayRows(rec *capture) {
	fmt.Printf("📈 Sample Data (all %s rows):\n", humanize.Comma(int64(len(rec.indices))))
	fmt.Printf("%-10s", "#")
	for _, f := range rec.fields {
		fmt.Printf(" %-12s", string(f))
	}
	fmt.Println()

	for row := range rec.indices {
		fmt.Printf("%-10d", rec.indices[row])
		for _, f := range rec.fields {
			v := rec.values[f][row]
			if telemetry.IsMissing(v) {
				fmt.Printf(" %-12s", "-")
			} else {
				fmt.Printf(" %-12.4f", v)
			}
		}
		fmt.Println()
	}
	fmt.Println()
}

// displayGraph creates an ASCII graph of one field over time
func displayGraph(rec *capture, field telemetry.Field) {
	series := rec.values[field]

	// Collect present values only; the graph gaps over missing readings
	minVal, maxVal := math.Inf(1), math.Inf(-1)
	present := 0
	for _, v := range series {
		if telemetry.IsMissing(v) {
			continue
		}
		present++
		if v < minVal {
			minVal = v
		}
		if v > maxVal {
			maxVal = v
		}
	}

	if present == 0 {
		fmt.Printf("📈 Field Graph: no readings for %s\n\n", field.Label())
		return
	}

	// Handle edge case where all values are the same
	if maxVal == minVal {
		maxVal = minVal + 1e-6
	}

	totalTime := 0.0
	if len(rec.seconds) > 1 {
		totalTime = rec.seconds[len(rec.seconds)-1] - rec.seconds[0]
	}

	fmt.Printf("📈 %s Over Time:\n", field.Label())
	fmt.Printf("Samples: %s | Present: %s | Duration: %.3f seconds\n",
		humanize.Comma(int64(len(series))), humanize.Comma(int64(present)), totalTime)
	fmt.Printf("Value Range: %.4f to %.4f\n", minVal, maxVal)
	fmt.Println()

	// Create graph grid
	graph := make([][]rune, graphHeight)
	for i := range graph {
		graph[i] = make([]rune, graphWidth)
		for j := range graph[i] {
			graph[i][j] = ' '
		}
	}

	// Plot data points
	for i, v := range series {
		if telemetry.IsMissing(v) {
			continue
		}

		// Map sample position to x
		x := 0
		if len(series) > 1 {
			x = int(float64(i) * float64(graphWidth-1) / float64(len(series)-1))
		}
		if x >= graphWidth {
			x = graphWidth - 1
		}

		// Map value to y (inverted because we draw top to bottom)
		normalized := (v - minVal) / (maxVal - minVal)
		y := int(float64(graphHeight-1) * (1.0 - normalized))
		if y >= graphHeight {
			y = graphHeight - 1
		}
		if y < 0 {
			y = 0
		}

		if graph[y][x] == ' ' {
			graph[y][x] = '*'
		} else {
			graph[y][x] = '#' // Multiple points at same location
		}
	}

	// Display the graph with y-axis labels
	fmt.Printf("Value\n")
	for i, row := range graph {
		normalizedY := float64(graphHeight-1-i) / float64(graphHeight-1)
		rowValue := minVal + normalizedY*(maxVal-minVal)

		fmt.Printf("%10.4f |", rowValue)
		for _, char := range row {
			fmt.Print(string(char))
		}
		fmt.Println("|")
	}

	// Print x-axis
	fmt.Printf("           +")
	fmt.Print(strings.Repeat("-", graphWidth))
	fmt.Println("+")

	// Print time labels
	fmt.Printf("           0")
	midLabel := fmt.Sprintf("%.3fs", totalTime/2)
	endLabel := fmt.Sprintf("%.3fs", totalTime)
	midPos := graphWidth / 2
	fmt.Print(strings.Repeat(" ", midPos-len(midLabel)/2))
	fmt.Print(midLabel)
	fmt.Print(strings.Repeat(" ", graphWidth-midPos-len(endLabel)))
	fmt.Print(endLabel)
	fmt.Println()

	fmt.Printf("\nLegend: * = data point, # = multiple points, Time →\n\n")
}

// displayStatistics shows per-field statistical analysis
func displayStatistics(rec *capture) {
	fmt.Printf("📊 Statistical Analysis:\n")
	fmt.Printf("%-22s %-8s %-8s %-12s %-12s %-12s\n",
		"Field", "Count", "Missing", "Min", "Max", "Mean")

	for _, f := range rec.fields {
		series := rec.values[f]

		count, missing := 0, 0
		sum := 0.0
		minVal, maxVal := math.Inf(1), math.Inf(-1)
		for _, v := range series {
			if telemetry.IsMissing(v) {
				missing++
				continue
			}
			count++
			sum += v
			if v < minVal {
				minVal = v
			}
			if v > maxVal {
				maxVal = v
			}
		}

		if count == 0 {
			fmt.Printf("%-22s %-8d %-8d %-12s %-12s %-12s\n",
				f.Label(), 0, missing, "-", "-", "-")
			continue
		}
		fmt.Printf("%-22s %-8d %-8d %-12.4f %-12.4f %-12.4f\n",
			f.Label(), count, missing, minVal, maxVal, sum/float64(count))
	}
	fmt.Println()
}

// main is the entry point of the application
func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
