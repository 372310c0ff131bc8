// Command hoscheck partitions a trip into daily logs and checks it against
// the hours-of-service rules without running the API.
//
//	hoscheck [-rules rules.yaml] [-format text|json] [trip.json]
//
// The trip is read from stdin when no file (or "-") is given. Exit status is
// 0 for a compliant trip, 1 for a non-compliant one and 2 for bad input.
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"

	"hoslog/internal/buildinfo"
	"hoslog/internal/config"
	"hoslog/internal/hos"
	"hoslog/internal/model"
)

const (
	exitOK           = 0
	exitNonCompliant = 1
	exitInput        = 2
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

type result struct {
	Logs               []hos.LogDay         `json:"logs"`
	Report             hos.ComplianceReport `json:"report"`
	Gauges             hos.Gauges           `json:"gauges"`
	TotalMiles         float64              `json:"totalMiles"`
	EstimatedFuelStops int                  `json:"estimatedFuelStops"`
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet("hoscheck", flag.ContinueOnError)
	fs.SetOutput(stderr)
	rulesPath := fs.String("rules", os.Getenv("HOS_RULES_PATH"), "YAML file overriding the default HOS limits")
	format := fs.String("format", "text", "output format: text or json")
	version := fs.Bool("version", false, "print version and exit")
	noColor := fs.Bool("no-color", false, "disable colored text output")
	if err := fs.Parse(args); err != nil {
		return exitInput
	}
	if *noColor {
		color.NoColor = true
	}
	if *version {
		info := buildinfo.Info()
		fmt.Fprintf(stdout, "hoscheck %s %s %s\n", info["version"], info["commit"], info["builtAt"])
		return exitOK
	}
	if *format != "text" && *format != "json" {
		fmt.Fprintf(stderr, "hoscheck: unknown format %q\n", *format)
		return exitInput
	}

	rules, err := config.LoadRules(*rulesPath)
	if err != nil {
		fmt.Fprintf(stderr, "hoscheck: %v\n", err)
		return exitInput
	}
	req, err := readTrip(fs.Arg(0), stdin)
	if err != nil {
		fmt.Fprintf(stderr, "hoscheck: %v\n", err)
		return exitInput
	}
	logs, report, err := rules.Check(req.Stops, req.Context)
	if err != nil {
		printInputError(stderr, err)
		return exitInput
	}
	miles := hos.TripMiles(logs)
	res := result{
		Logs:               logs,
		Report:             report,
		Gauges:             report.Gauges(),
		TotalMiles:         miles,
		EstimatedFuelStops: hos.FuelStopsNeeded(miles),
	}

	if *format == "json" {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(res); err != nil {
			fmt.Fprintf(stderr, "hoscheck: %v\n", err)
			return exitInput
		}
	} else {
		printText(stdout, res)
	}
	if !report.IsCompliant {
		return exitNonCompliant
	}
	return exitOK
}

func readTrip(path string, stdin io.Reader) (model.TripRequest, error) {
	var req model.TripRequest
	in := stdin
	if path != "" && path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, err
		}
		defer f.Close()
		in = f
	}
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		return req, fmt.Errorf("decode trip: %w", err)
	}
	return req, nil
}

func printInputError(w io.Writer, err error) {
	var verrs hos.ValidationErrors
	if errors.As(err, &verrs) {
		fmt.Fprintln(w, "hoscheck: invalid trip context:")
		for field, msg := range verrs.Fields() {
			fmt.Fprintf(w, "  %s: %s\n", field, msg)
		}
		return
	}
	fmt.Fprintf(w, "hoscheck: %v\n", err)
}

func printText(w io.Writer, res result) {
	for _, d := range res.Logs {
		t := d.TotalHours
		fmt.Fprintf(w, "%s  %s -> %s  %.1f mi\n", d.Date, d.StartLocation, d.EndLocation, d.TotalMiles)
		fmt.Fprintf(w, "  off %.1fh  sleeper %.1fh  driving %.1fh  on-duty %.1fh\n", t.OffDuty, t.SleeperBerth, t.Driving, t.OnDutyNotDriving)
		for _, a := range d.Activities {
			fmt.Fprintf(w, "    %s-%s  %-20s %s\n", hos.Clock(a.StartMinute), hos.Clock(a.EndOffset()), a.Status, a.Remarks)
		}
	}
	r := res.Report
	status := color.GreenString("COMPLIANT")
	if !r.IsCompliant {
		status = color.RedString("NOT COMPLIANT")
	}
	fmt.Fprintf(w, "\n%s  cycle %.1f/%.0fh  miles %.1f  fuel stops %d\n", status, r.CycleHoursUsed, r.MaxCycleHours, res.TotalMiles, res.EstimatedFuelStops)
	fmt.Fprintf(w, "gauges  cycle %s  driving %s  window %s\n", bar(res.Gauges.CycleHours), bar(res.Gauges.DrivingHours), bar(res.Gauges.DutyWindow))
	for _, v := range r.Violations {
		color.New(color.FgRed).Fprintf(w, "  [%s] %s\n", strings.ToUpper(string(v.Severity)), v.Description)
	}
	for _, msg := range r.Warnings {
		color.New(color.FgYellow).Fprintf(w, "  [WARN] %s\n", msg)
	}
	if r.SleeperBerthUsage.Details != "" {
		fmt.Fprintf(w, "  sleeper: %s\n", r.SleeperBerthUsage.Details)
	}
}

// bar renders a clamped percentage as a ten-cell gauge.
func bar(pct float64) string {
	n := int(pct / 10)
	return fmt.Sprintf("[%s%s] %3.0f%%", strings.Repeat("#", n), strings.Repeat(".", 10-n), pct)
}
