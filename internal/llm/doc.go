// Package llm is the reasoning stage of the pipeline. It sends batches of
// records with their retrieved context to a chat model and parses one outcome
// per record. Anthropic, OpenAI and the Claude Code CLI are supported.
package llm
