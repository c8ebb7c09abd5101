// Package voice orchestrates a streaming voice turn.
//
// A Pipeline takes captured audio (or text), transcribes it, streams a reply
// from a language model, cuts the reply into sentences as tokens arrive and
// synthesizes each sentence as soon as it is complete. Synthesis runs
// concurrently with generation, bounded by Config.MaxInFlightSynthesis, so
// the first sentence is audible long before the model has finished.
//
// Segments are reassembled in sentence order regardless of the order in
// which synthesis finishes.
//
// # Usage
//
//	p, err := voice.New(voice.DefaultConfig(), voice.Providers{
//	    Transcriber: transcriber,
//	    Generator:   generator,
//	    Synthesizer: synthesizer,
//	}, voice.WithSink(speaker))
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	res, err := p.ProcessAudio(ctx, capture)
//	if errors.Is(err, voice.ErrBusy) {
//	    return
//	}
//	if err != nil {
//	    fmt.Printf("turn %s failed: %v (truncated=%v)\n", res.TurnID, err, res.Truncated)
//	}
//
// # State machine
//
// Each turn moves through Idle, Capturing, Transcribing, Generating,
// Chunking, Synthesizing, Assembling and Complete. Any failure moves to
// Error. Both terminal states return to Idle, carrying the bounded history
// into the next turn. Text turns start at Generating.
//
// # Errors
//
// Every provider call runs under a resilience.Guard: a rate-limit token per
// attempt and retry with backoff for transient failures. Anything else ends
// the turn with an ErrorOccurred event naming the stage and error kind.
// Sentences synthesized before the failure are returned with Truncated set,
// but are never sent to the Sink.
//
// # Latency Metrics
//
// Every pipeline feeds a MetricsCollector with its own events and keeps
// per-stage latencies for recent turns:
//
//	res, _ := p.ProcessText(ctx, "hello")
//	fmt.Println(p.Latency().Current().FormatLatency())
//	fmt.Println(p.Latency().Average().FormatLatency())
package voice
