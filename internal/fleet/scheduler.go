package fleet

import (
	"context"
	"fmt"
	"sync"
)

// maxWorkers caps simultaneous outbound SSH handshakes. More buys nothing on
// a dashboard poll and risks tripping local fd limits or remote sshd
// connection-rate limits.
const maxWorkers = 8

// FetchStatuses fans the telemetry fetch out over hosts with a bounded worker
// pool and returns results in the exact order of the input, regardless of
// completion order. Each host is independent: one host's timeout or failure
// never delays or poisons a sibling's slot.
func (f *Fetcher) FetchStatuses(ctx context.Context, hosts []string) []HostStatus {
	if len(hosts) == 0 {
		return []HostStatus{}
	}

	// One slot per input host, addressed by index. No shared map, no lock.
	results := make([]HostStatus, len(hosts))
	jobs := make(chan int)

	workers := maxWorkers
	if len(hosts) < workers {
		workers = len(hosts)
	}

	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = f.fetchStatusRecovered(ctx, hosts[i])
			}
		}()
	}

	for i := range hosts {
		jobs <- i
	}
	close(jobs)
	wg.Wait()

	return results
}

// fetchStatusRecovered converts an unexpected panic in a worker into a
// structured failure for that host instead of aborting its siblings.
func (f *Fetcher) fetchStatusRecovered(ctx context.Context, host string) (status HostStatus) {
	defer func() {
		if r := recover(); r != nil {
			f.log.Error("telemetry fetch for %s panicked: %v", host, r)
			status = HostStatus{
				Host:  host,
				OK:    false,
				Error: fmt.Sprintf("error: %v", r),
				GPUs:  []GPUReading{},
			}
		}
	}()
	return f.FetchStatus(ctx, host)
}
