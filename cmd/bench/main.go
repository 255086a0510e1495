package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"os"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const alphabet = "abcdefghijklmnopqrstuvwxyz0123456789"

func main() {
	var (
		addr    string
		n       int
		conc    int
		batch   int
		addrLen int
		maxID   int
	)
	cmd := &cobra.Command{
		Use:   "bench",
		Short: "Load generator for the observation and lookup endpoints",
		RunE: func(cmd *cobra.Command, args []string) error {
			return bench(cmd.Context(), addr, n, conc, batch, addrLen, maxID)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "http://localhost:8080", "server address")
	cmd.Flags().IntVarP(&n, "n", "n", 5000, "requests")
	cmd.Flags().IntVarP(&conc, "c", "c", 32, "concurrency")
	cmd.Flags().IntVar(&batch, "batch", 16, "observations per request")
	cmd.Flags().IntVar(&addrLen, "addr-len", 4, "account address length")
	cmd.Flags().IntVar(&maxID, "max-group", 10, "largest group ID")

	if err := cmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func bench(ctx context.Context, addr string, n, conc, batch, addrLen, maxID int) error {
	client := &http.Client{Timeout: 5 * time.Second}
	var failed atomic.Int64
	start := time.Now()

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(conc)
	for i := 0; i < n; i++ {
		eg.Go(func() error {
			rnd := rand.New(rand.NewSource(int64(i)))
			obs := make(map[string]int, batch)
			lookup := randomAddr(rnd, addrLen)
			obs[lookup] = rnd.Intn(maxID) + 1
			for len(obs) < batch {
				obs[randomAddr(rnd, addrLen)] = rnd.Intn(maxID) + 1
			}
			body, err := json.Marshal(obs)
			if err != nil {
				return err
			}
			if !do(ctx, client, http.MethodPost, addr+"/observations", body) {
				failed.Add(1)
			}
			if !do(ctx, client, http.MethodGet, addr+"/group/"+lookup, nil) {
				failed.Add(1)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	dur := time.Since(start)
	fmt.Printf("Completed %d ops in %s (%.2f ops/s), %d failed\n", n*2, dur, float64(n*2)/dur.Seconds(), failed.Load())
	return nil
}

func randomAddr(rnd *rand.Rand, n int) string {
	b := make([]byte, n)
	for i := range b {
		b[i] = alphabet[rnd.Intn(len(alphabet))]
	}
	return string(b)
}

// do reports whether the request got a 2xx or 404 answer.
func do(ctx context.Context, client *http.Client, method, url string, body []byte) bool {
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(body))
	if err != nil {
		return false
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := client.Do(req)
	if err != nil {
		return false
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return resp.StatusCode < 300 || resp.StatusCode == http.StatusNotFound
}
