package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fatih/color"

	"legal-qa-be/pkg/stage"
	"legal-qa-be/pkg/stream"
	"legal-qa-be/pkg/upstream"
)

// streamprobe opens one upstream stream and prints every decoded event,
// tracking stage progress the way the dispatcher would. Useful for
// eyeballing what a pipeline actually sends.
func main() {
	baseURL := flag.String("base-url", "http://localhost:8000", "query service base URL")
	token := flag.String("token", os.Getenv("QUERY_API_KEY"), "bearer token")
	pipeline := flag.String("pipeline", "", "consilium | court_practice | empty for plain")
	search := flag.Bool("search", false, "enable search augmentation (plain mode)")
	model := flag.String("model", "deepseek/deepseek-chat", "completion model")
	flag.Parse()

	question := flag.Arg(0)
	if question == "" {
		color.Red("Usage: streamprobe [flags] \"question\"")
		os.Exit(1)
	}

	client := upstream.NewQueryClient(*baseURL, *model)
	ctx := context.Background()

	var (
		body       io.ReadCloser
		descriptor stage.Descriptor
		err        error
	)
	switch *pipeline {
	case "consilium":
		descriptor = stage.Consilium()
		body, err = client.OpenConsilium(ctx, *token, question)
	case "court_practice":
		descriptor = stage.CourtPractice()
		body, err = client.OpenCourtPractice(ctx, *token, question)
	default:
		history := []upstream.Message{{Role: "user", Content: question}}
		if *search {
			descriptor = stage.SearchAugmented()
			body, err = client.OpenSearchAugmented(ctx, *token, history, true)
		} else {
			body, err = client.OpenPlain(ctx, *token, history)
		}
	}
	if err != nil {
		color.Red("Failed to open stream: %v", err)
		os.Exit(1)
	}
	defer body.Close()

	color.Cyan("🚀 Streaming (pipeline=%q search=%v)", *pipeline, *search)

	var tracker *stage.Tracker
	if descriptor.Len() > 0 {
		tracker = stage.NewTracker(descriptor)
	}

	decoder := stream.NewDecoder(body)
	deltas := 0
	for {
		ev, err := decoder.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			color.Red("\nStream broke: %v", err)
			os.Exit(1)
		}

		switch ev.Type {
		case stream.EventContentDelta:
			deltas++
			fmt.Print(ev.Text)

		case stream.EventStageUpdate:
			if tracker != nil {
				tracker.Apply(ev)
				snap := tracker.Snapshot()
				color.Yellow("\n[stage %d/%d] %s — %s", snap.ActiveIndex+1, descriptor.Len(), ev.StageID, snap.Message)
			} else {
				color.Yellow("\n[stage] %s — %s", ev.StageID, ev.Message)
			}

		case stream.EventHeartbeat:
			color.HiBlack("\n[heartbeat]")

		case stream.EventError:
			color.Red("\n[error] %s", ev.Message)

		case stream.EventTimeout:
			color.Red("\n[timeout] %s", ev.Message)

		case stream.EventDone:
			color.Green("\n[done] %d deltas, %d bytes of result payload", deltas, len(ev.Result))
		}
	}

	if tracker != nil {
		color.Cyan("Final stage index: %d (errored=%v)", tracker.ActiveIndex(), tracker.Errored())
	}
}
