// Command bulk-enqueue is an operator tool that reads a recipient CSV
// and submits one message per row through the same Enqueuer the HTTP
// API uses, so bulk submissions get identical suspension/quota/rate/
// idempotency semantics (spec.md §4.4). Adapted from the teacher's
// csvparser-driven CLI pattern.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"

	"deliveryengine/internal/app"
	"deliveryengine/internal/csvparser"
	"deliveryengine/internal/enqueue"
	"deliveryengine/internal/idempotency"
	"deliveryengine/internal/quota"
	"deliveryengine/internal/ratelimit"
)

func main() {
	var (
		csvPath      = flag.String("csv", "", "path to a recipient CSV with an Email column")
		projectID    = flag.String("project", "", "project UUID to enqueue on behalf of")
		from         = flag.String("from", "", "From address")
		subject      = flag.String("subject", "", "email subject")
		bodyTemplate = flag.String("body-template", "", "html/template body, rendered per row with that row's fields")
	)
	flag.Parse()

	if *csvPath == "" || *projectID == "" || *from == "" || *bodyTemplate == "" {
		fmt.Fprintln(os.Stderr, "usage: bulk-enqueue -csv=<path> -project=<uuid> -from=<addr> -body-template=<tmpl> [-subject=<s>]")
		os.Exit(2)
	}

	pid, err := uuid.Parse(*projectID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "invalid -project: %v\n", err)
		os.Exit(2)
	}

	ctx := context.Background()

	a, err := app.Bootstrap(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "bootstrap failed: %v\n", err)
		os.Exit(1)
	}
	defer a.Close()

	f, err := os.Open(*csvPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "open csv: %v\n", err)
		os.Exit(1)
	}
	defer f.Close()

	rows, err := csvparser.ParseRecipientRows(f, 0)
	if err != nil {
		fmt.Fprintf(os.Stderr, "parse csv: %v\n", err)
		os.Exit(1)
	}

	requests, err := csvparser.BuildRequests(rows, *from, *subject, *bodyTemplate)
	if err != nil {
		fmt.Fprintf(os.Stderr, "build requests: %v\n", err)
		os.Exit(1)
	}

	project, err := a.Store.GetProject(ctx, pid)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load project: %v\n", err)
		os.Exit(1)
	}

	enqueuer := enqueue.New(a.Store, quota.New(a.Store), ratelimit.New(a.Store), idempotency.New(a.Store))

	var accepted, duplicates, rejected int
	for _, req := range requests {
		req.ProjectID = pid
		result, err := enqueuer.Accept(ctx, project, req)
		if err != nil {
			rejected++
			fmt.Fprintf(os.Stderr, "reject %s: %v\n", req.To, err)
			continue
		}
		if result.Duplicate {
			duplicates++
			continue
		}
		accepted++
	}

	fmt.Printf("accepted=%d duplicates=%d rejected=%d total=%d\n", accepted, duplicates, rejected, len(requests))
}
