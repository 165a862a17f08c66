// Package llm runs one streamed interaction turn against a chat model.
//
// Invariants:
// - The caller's session is never mutated; Interact works on a clone.
// - Chunks reach the handler in provider emission order, before the agent item
//   is committed to the returned session.
// - Only rate-limit errors raised before the first delta are retried.
// - Configuration problems fail as *ConfigError without any network call.
//
// Usage:
//
//	it, _ := llm.NewInteractor(llm.Config{Logger: logger})
//	res, err := it.Interact(ctx, llm.InteractRequest{
//		Input: session.ToContent("What's 2+2?"),
//		Model: "openai/gpt-4.1-nano",
//	}, func(c llm.Chunk) { fmt.Print(c.Content) })
//	_ = res.Session
package llm
