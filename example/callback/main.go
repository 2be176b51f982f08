package main

import (
	"context"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/AUVSL/rosbag-to-csv/pkg/recorder"
)

// Records a simulated producer for two seconds and prints the table.
func main() {
	cfg := &recorder.Config{
		Interval: 100 * time.Millisecond,
		Subscriptions: []recorder.Subscription{{
			TopicName: "sim/pose",
			Transport: recorder.TransportExternal,
			Fields: []recorder.FieldConfig{
				{Name: "x", FieldPath: "position.x"},
				{Name: "heading", FieldPath: "heading"},
			},
		}},
	}

	rt, err := recorder.NewRuntime(cfg, recorder.WithTableWriter(mustCallback()))
	if err != nil {
		log.Fatalf("build runtime: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	go produce(ctx, rt)
	if err := rt.Run(ctx); err != nil {
		log.Fatalf("runtime error: %v", err)
	}
}

type pose struct {
	Position struct{ X float64 }
	Heading  float64 `json:"heading"`
}

func produce(ctx context.Context, rt *recorder.Runtime) {
	ticker := time.NewTicker(15 * time.Millisecond)
	defer ticker.Stop()
	start := time.Now()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			var p pose
			t := now.Sub(start).Seconds()
			p.Position.X = t
			p.Heading = math.Mod(t*45, 360)
			if err := rt.Put("sim/pose", &p); err != nil {
				log.Printf("put: %v", err)
			}
		}
	}
}

func mustCallback() recorder.TableWriter {
	w, err := recorder.NewCallbackWriter("stdout", func(_ context.Context, table recorder.Table) error {
		fmt.Println("timestamp\t" + strings.Join(table.Columns, "\t"))
		for _, row := range table.Rows {
			cells := make([]string, len(row.Cells))
			for i, c := range row.Cells {
				cells[i] = recorder.FormatCell(c)
			}
			fmt.Printf("%s\t%s\n", row.Timestamp.Format(time.RFC3339Nano), strings.Join(cells, "\t"))
		}
		return nil
	})
	if err != nil {
		log.Fatal(err)
	}
	return w
}
