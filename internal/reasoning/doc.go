// Package reasoning turns a user utterance into an answer, calling tools
// along the way.
//
// An Engine is the external inference collaborator (OllamaEngine talks to a
// local Ollama server). A Loop drives the engine for one user turn: every
// engine round may request tool calls, which are invoked one after the other
// through the tool call protocol and fed back before the next round. The
// number of rounds per turn is bounded by MaxIterations; when the bound is
// reached the loop returns the last answer it has and marks the turn as
// truncated.
package reasoning
