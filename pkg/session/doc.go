// Package session models an LLM conversation as an append-only tree of items.
//
// Invariants:
// - Items live in a flat id->Item arena; children are referenced by id only.
// - Every item id appears as a child at most once, so the tree never rejoins.
// - The active path follows Next[SelectedNext] from First and always terminates.
// - A tool_use result is non-nil iff its status is not pending.
//
// Usage:
//
//	s := session.New(session.Config{Model: "openai/gpt-4.1-nano"})
//	user := session.NewUserItem(session.NewText("What's 2+2?"))
//	_ = s.Append("", user)
//	last := s.LastID()
//	_ = last
package session
