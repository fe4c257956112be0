package main

import (
	"fmt"
	"io"
	"log"
	"sync"
	"sync/atomic"
	"time"
)

type scenario struct {
	Name              string
	InsertProbability float64
	BurstProbability  float64
	ThinkTime         time.Duration
	BurstSize         int
}

var scenarios = map[string]scenario{
	"normal": {
		Name:              "Normal Typing",
		InsertProbability: 0.8,
		BurstProbability:  0.1,
		ThinkTime:         100 * time.Millisecond,
		BurstSize:         5,
	},
	"aggressive": {
		Name:              "Aggressive Editing",
		InsertProbability: 0.7,
		BurstProbability:  0.3,
		ThinkTime:         50 * time.Millisecond,
		BurstSize:         10,
	},
	"code": {
		Name:              "Code Writing",
		InsertProbability: 0.9,
		BurstProbability:  0.4,
		ThinkTime:         200 * time.Millisecond,
		BurstSize:         20,
	},
	"review": {
		Name:              "Document Review",
		InsertProbability: 0.3,
		BurstProbability:  0.1,
		ThinkTime:         500 * time.Millisecond,
		BurstSize:         3,
	},
}

type simulationConfig struct {
	ServerURL       string
	Users           int
	RoomID          string
	FilePath        string
	Duration        time.Duration
	Scenario        string
	RampUp          time.Duration
	MetricsInterval time.Duration
}

type metrics struct {
	start     time.Time
	sent      int64
	received  int64
	errors    int64
	connected int64
	granted   int64
	denied    int64
}

// report is the outcome of one simulation run.
type report struct {
	Duration   time.Duration
	Sent       int64
	Received   int64
	Errors     int64
	Granted    int64
	Denied     int64
	AvgLatency time.Duration
	Consistent bool
}

func runSimulation(cfg simulationConfig) (report, error) {
	s, ok := scenarios[cfg.Scenario]
	if !ok {
		return report{}, fmt.Errorf("unknown scenario %q", cfg.Scenario)
	}
	if cfg.Users <= 0 {
		return report{}, fmt.Errorf("users must be positive, got %d", cfg.Users)
	}
	m := &metrics{start: time.Now()}
	log.Printf("Starting simulation with %d users in room %s, scenario: %s", cfg.Users, cfg.RoomID, s.Name)

	stopMetrics := make(chan struct{})
	go reportMetrics(m, cfg.MetricsInterval, stopMetrics)

	clients := make([]*simClient, cfg.Users)
	var wg sync.WaitGroup
	pause := time.Duration(0)
	if cfg.Users > 1 {
		pause = cfg.RampUp / time.Duration(cfg.Users)
	}
	for i := range clients {
		c := newSimClient(fmt.Sprintf("load_user_%d", i), cfg.RoomID, cfg.FilePath, m)
		clients[i] = c
		wg.Add(1)
		go func() {
			defer wg.Done()
			var err error
			for attempt := 0; attempt < 3; attempt++ {
				if err = c.Connect(cfg.ServerURL); err == nil {
					break
				}
				log.Printf("client %s connection attempt %d failed: %v", c.UserID, attempt+1, err)
				c.Disconnect()
				c = newSimClient(c.UserID, cfg.RoomID, cfg.FilePath, m)
				clients[i] = c
				time.Sleep(time.Second)
			}
			if err != nil {
				log.Printf("client %s failed to connect after retries: %v", c.UserID, err)
				return
			}
			c.Simulate(s, cfg.Duration)
		}()
		time.Sleep(pause)
	}
	wg.Wait()
	close(stopMetrics)

	consistent := checkConsistency(clients)
	for _, c := range clients {
		c.Disconnect()
	}

	r := report{
		Duration:   time.Since(m.start),
		Sent:       atomic.LoadInt64(&m.sent),
		Received:   atomic.LoadInt64(&m.received),
		Errors:     atomic.LoadInt64(&m.errors),
		Granted:    atomic.LoadInt64(&m.granted),
		Denied:     atomic.LoadInt64(&m.denied),
		Consistent: consistent,
	}
	var total time.Duration
	var count int
	for _, c := range clients {
		c.mu.RLock()
		for _, l := range c.latencies {
			total += l
			count++
		}
		c.mu.RUnlock()
	}
	if count > 0 {
		r.AvgLatency = total / time.Duration(count)
	}
	return r, nil
}

// checkConsistency reads the file back through every connected client and
// reports whether they all saw the same content.
func checkConsistency(clients []*simClient) bool {
	var first *string
	consistent := true
	for _, c := range clients {
		if !c.isConnected() {
			continue
		}
		content, err := c.ReadBack(5 * time.Second)
		if err != nil {
			log.Printf("consistency read failed: %v", err)
			consistent = false
			continue
		}
		if first == nil {
			first = &content
			continue
		}
		if content != *first {
			log.Printf("inconsistency detected: client %s read %d bytes, expected %d", c.UserID, len(content), len(*first))
			consistent = false
		}
	}
	return consistent
}

func reportMetrics(m *metrics, interval time.Duration, stop <-chan struct{}) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			elapsed := time.Since(m.start)
			sent := atomic.LoadInt64(&m.sent)
			log.Printf("[%s] Connected: %d, Sent: %d, Recv: %d, Errors: %d, Events/sec: %.2f",
				elapsed.Round(time.Second),
				atomic.LoadInt64(&m.connected),
				sent,
				atomic.LoadInt64(&m.received),
				atomic.LoadInt64(&m.errors),
				float64(sent)/elapsed.Seconds(),
			)
		}
	}
}

func (r report) Print(w io.Writer) {
	fmt.Fprintln(w, "\n=== SIMULATION REPORT ===")
	fmt.Fprintf(w, "Duration: %s\n", r.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Events Sent: %d\n", r.Sent)
	fmt.Fprintf(w, "Content Events Received: %d\n", r.Received)
	fmt.Fprintf(w, "Edit Permission Granted/Denied: %d/%d\n", r.Granted, r.Denied)
	fmt.Fprintf(w, "Errors: %d\n", r.Errors)
	if r.AvgLatency > 0 {
		fmt.Fprintf(w, "Average Send Latency: %v\n", r.AvgLatency)
	}
	if secs := r.Duration.Seconds(); secs > 0 {
		fmt.Fprintf(w, "Events per Second: %.2f\n", float64(r.Sent)/secs)
	}
	if attempts := r.Sent + r.Errors; attempts > 0 {
		fmt.Fprintf(w, "Success Rate: %.2f%%\n", float64(r.Sent)/float64(attempts)*100)
	}
	fmt.Fprintf(w, "Consistent Read-back: %t\n", r.Consistent)
}
