package fleet

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// processWrapper locates a Python interpreter on the remote host and feeds it
// the helper script from stdin, so no remote deployment step is needed.
const processWrapper = "command -v python3 >/dev/null 2>&1 && exec python3 - || exec python -"

// processScript is the remote helper payload. It cross-references GPU UUIDs
// with compute-process entries and emits one JSON array of process records.
//
// The output schema is a versioned contract with the local decoder: each
// record carries gpu_index, pid, name, mem_used, cwd, and cwd_error. Keep
// process_conformance_test.go in step with any change here.
const processScript = `
import csv
import json
import os
import subprocess
import sys


def run(cmd):
    proc = subprocess.run(
        cmd,
        shell=True,
        stdout=subprocess.PIPE,
        stderr=subprocess.PIPE,
        universal_newlines=True,
    )
    if proc.returncode != 0:
        sys.stderr.write(proc.stderr or proc.stdout)
        sys.exit(proc.returncode)
    return proc.stdout.strip()


try:
    gpu_text = run(
        "nvidia-smi --query-gpu=index,uuid --format=csv,noheader,nounits"
    )
    proc_text = run(
        "nvidia-smi --query-compute-apps=gpu_uuid,pid,process_name,used_memory "
        "--format=csv,noheader,nounits"
    )
except Exception as exc:
    sys.stderr.write(str(exc))
    sys.exit(1)

if proc_text.strip().lower().startswith("no running processes"):
    proc_text = ""

mapping = {}
for row in csv.reader(gpu_text.splitlines()):
    if len(row) < 2:
        continue
    index, uuid = [item.strip() for item in row[:2]]
    mapping[uuid] = index

records = []
for row in csv.reader(proc_text.splitlines()):
    if len(row) < 4:
        continue
    uuid, pid, name, mem = [item.strip() for item in row[:4]]
    gpu_index = mapping.get(uuid, "")
    cwd = ""
    cwd_error = ""
    if pid.isdigit():
        try:
            cwd = os.readlink("/proc/{}/cwd".format(pid))
        except Exception as exc:
            cwd_error = str(exc)
    mem_used = None
    if mem:
        try:
            mem_used = int(float(mem))
        except ValueError:
            mem_used = None
    records.append(
        {
            "gpu_index": int(gpu_index) if gpu_index.isdigit() else None,
            "pid": int(pid) if pid.isdigit() else None,
            "name": name,
            "mem_used": mem_used,
            "cwd": cwd,
            "cwd_error": cwd_error,
        }
    )

print(json.dumps(records))
`

// noProcessSentinel is the nvidia-smi message meaning zero compute processes.
// It is a successful, empty result rather than a failure.
const noProcessSentinel = "no running processes"

// ProcessRecord is one compute process on a remote GPU. GPUIndex, PID, and
// MemUsedMiB are nil when the remote tooling could not resolve them. Cwd
// resolution is best-effort per process; a failure lands in CwdError without
// discarding the record.
type ProcessRecord struct {
	GPUIndex   *int   `json:"gpu_index"`
	PID        *int   `json:"pid"`
	Name       string `json:"name"`
	MemUsedMiB *int   `json:"mem_used"`
	Cwd        string `json:"cwd"`
	CwdError   string `json:"cwd_error"`
}

// ProcessResult is the outcome of one process fetch.
type ProcessResult struct {
	Host      string          `json:"host"`
	OK        bool            `json:"ok"`
	Error     string          `json:"error,omitempty"`
	Index     *int            `json:"index,omitempty"`
	Processes []ProcessRecord `json:"processes"`
}

// FetchProcesses runs the helper script on one host and returns its records.
func (f *Fetcher) FetchProcesses(ctx context.Context, host string) ProcessResult {
	failed := func(msg string) ProcessResult {
		return ProcessResult{Host: host, OK: false, Error: msg, Processes: []ProcessRecord{}}
	}

	runCtx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	argv := append(f.builder.SSHArgs(host), host, "sh", "-c", processWrapper)
	result, err := f.runner.Run(runCtx, argv, strings.NewReader(processScript))
	if err != nil {
		if runCtx.Err() != nil {
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
	if output == "" || strings.HasPrefix(strings.ToLower(output), noProcessSentinel) {
		return ProcessResult{Host: host, OK: true, Processes: []ProcessRecord{}}
	}

	var records []ProcessRecord
	if err := json.Unmarshal([]byte(output), &records); err != nil {
		return failed("invalid process data")
	}
	if records == nil {
		records = []ProcessRecord{}
	}
	return ProcessResult{Host: host, OK: true, Processes: records}
}

// FetchGPUProcesses fetches the host's process list and filters it down to
// one GPU index. It reuses the full fetch rather than re-querying.
func (f *Fetcher) FetchGPUProcesses(ctx context.Context, host string, index int) ProcessResult {
	result := f.FetchProcesses(ctx, host)
	result.Index = &index
	if !result.OK {
		return result
	}

	filtered := make([]ProcessRecord, 0, len(result.Processes))
	for _, record := range result.Processes {
		if record.GPUIndex != nil && *record.GPUIndex == index {
			filtered = append(filtered, record)
		}
	}
	result.Processes = filtered
	return result
}
