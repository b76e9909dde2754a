// Package fleet collects GPU telemetry and process listings from remote
// hosts over SSH, with per-host isolation and order-stable fan-out.
package fleet

import (
	"context"
	"encoding/csv"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/Ast111/gpu-monitor/internal/logger"
	"github.com/Ast111/gpu-monitor/internal/sshcmd"
)

// gpuQuery is the fixed read-only telemetry command run on each host.
const gpuQuery = "nvidia-smi --query-gpu=index,name,temperature.gpu," +
	"utilization.gpu,memory.used,memory.total " +
	"--format=csv,noheader,nounits"

// statusTimeout bounds one telemetry round trip, handshake included.
const statusTimeout = 30 * time.Second

// GPUReading is one parsed nvidia-smi row. Readings are produced fresh on
// every query and never cached.
type GPUReading struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	TempC       int    `json:"temp"`
	UtilPct     int    `json:"util"`
	MemUsedMiB  int    `json:"mem_used"`
	MemTotalMiB int    `json:"mem_total"`
}

// Summary aggregates the readings of one host.
type Summary struct {
	Count    int `json:"count"`
	UtilAvg  int `json:"util_avg"`
	MemUsed  int `json:"mem_used"`
	MemTotal int `json:"mem_total"`
	MemPct   int `json:"mem_pct"`
}

// HostStatus is the result of one telemetry fetch. OK=false implies GPUs is
// empty and Error is set; OK=true implies GPUs is non-empty.
type HostStatus struct {
	Host    string       `json:"host"`
	OK      bool         `json:"ok"`
	Error   string       `json:"error,omitempty"`
	Summary *Summary     `json:"summary,omitempty"`
	GPUs    []GPUReading `json:"gpus"`
}

// Fetcher runs remote telemetry and process queries.
type Fetcher struct {
	builder *sshcmd.Builder
	runner  sshcmd.Runner
	log     logger.Logger
	timeout time.Duration
}

// NewFetcher creates a Fetcher using the given command builder and runner.
func NewFetcher(builder *sshcmd.Builder, runner sshcmd.Runner, log logger.Logger) *Fetcher {
	if log == nil {
		log = logger.Noop()
	}
	return &Fetcher{
		builder: builder,
		runner:  runner,
		log:     log,
		timeout: statusTimeout,
	}
}

// SetTimeout overrides the per-host round-trip ceiling.
func (f *Fetcher) SetTimeout(timeout time.Duration) {
	f.timeout = timeout
}

// FetchStatus runs the telemetry query against one host.
func (f *Fetcher) FetchStatus(ctx context.Context, host string) HostStatus {
	failed := func(msg string) HostStatus {
		return HostStatus{Host: host, OK: false, Error: msg, GPUs: []GPUReading{}}
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	argv := append(f.builder.SSHArgs(host), host, gpuQuery)
	result, err := f.runner.Run(runCtx, argv, nil)
	if err != nil {
		if runCtx.Err() != nil {
			f.log.Debug("telemetry for %s timed out", host)
			return failed("ssh timed out")
		}
		return failed(err.Error())
	}
	if result.ExitCode != 0 {
		msg := result.ErrorText()
		if msg == "" {
			msg = fmt.Sprintf("ssh exited with %d", result.ExitCode)
		}
		return failed(msg)
	}

	output := strings.TrimSpace(string(result.Stdout))
	if output == "" {
		return failed("no data from nvidia-smi")
	}

	gpus := parseGPUReadings(output)
	if len(gpus) == 0 {
		return failed("unable to parse nvidia-smi output")
	}

	return HostStatus{
		Host:    host,
		OK:      true,
		Summary: summarize(gpus),
		GPUs:    gpus,
	}
}

// parseGPUReadings parses the six-column CSV defensively: short rows and rows
// with unparseable numeric fields are skipped, not fatal.
func parseGPUReadings(output string) []GPUReading {
	reader := csv.NewReader(strings.NewReader(output))
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true

	rows, err := reader.ReadAll()
	if err != nil {
		return nil
	}

	var gpus []GPUReading
	for _, row := range rows {
		if len(row) < 6 {
			continue
		}
		for i := range row {
			row[i] = strings.TrimSpace(row[i])
		}
		index, err := strconv.Atoi(row[0])
		if err != nil {
			continue
		}
		temp, err := parseIntField(row[2])
		if err != nil {
			continue
		}
		util, err := parseIntField(row[3])
		if err != nil {
			continue
		}
		memUsed, err := parseIntField(row[4])
		if err != nil {
			continue
		}
		memTotal, err := parseIntField(row[5])
		if err != nil {
			continue
		}
		gpus = append(gpus, GPUReading{
			Index:       index,
			Name:        row[1],
			TempC:       temp,
			UtilPct:     util,
			MemUsedMiB:  memUsed,
			MemTotalMiB: memTotal,
		})
	}
	return gpus
}

// parseIntField accepts integer or float formatting; nvidia-smi normally
// emits integers but some driver versions report floats.
func parseIntField(s string) (int, error) {
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(v), nil
}

// summarize computes fleet-facing aggregates for one host.
func summarize(gpus []GPUReading) *Summary {
	var utilSum, memUsed, memTotal int
	for _, gpu := range gpus {
		utilSum += gpu.UtilPct
		memUsed += gpu.MemUsedMiB
		memTotal += gpu.MemTotalMiB
	}

	memPct := 0
	if memTotal > 0 {
		memPct = int(math.Round(float64(memUsed) / float64(memTotal) * 100))
	}

	return &Summary{
		Count:    len(gpus),
		UtilAvg:  int(math.Round(float64(utilSum) / float64(len(gpus)))),
		MemUsed:  memUsed,
		MemTotal: memTotal,
		MemPct:   memPct,
	}
}
