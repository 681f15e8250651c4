// Package model defines the provider-agnostic boundary between channelmesh
// and model-serving backends.
//
// A Model runs one generation step and reports it as a stream of classified
// core.StreamEvent values. Multi-step tool use is driven by the invoker
// package, which calls Generate again with the tool transcript appended.
//
// Providers (OpenAI, Anthropic, Gemini) live in sub-packages so that
// higher layers stay decoupled from vendor SDKs. ScriptedModel is a
// deterministic in-memory Model for tests and offline demos.
package model
