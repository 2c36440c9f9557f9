// Package logx is the bot's structured logger: a thin value-type wrapper over
// zerolog with typed fields, plus a Service that owns the sinks (console, file
// and an optional rate-limited alert sink that forwards warnings to the owner
// chat) and can swap them at runtime.
package logx
