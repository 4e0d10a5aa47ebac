// Package handlers implements the HTTP layer of the RAG Suite services.
//
// Each service binary mounts one or more handler structs onto a gin
// router group versioned under /v1. Handlers parse and bind requests,
// delegate to the service layer, and translate domain errors into the
// shared error envelope.
//
// # Control Plane (cmd/ingestion)
//
//	POST /v1/pipeline/normalize                  - Deterministic text normalization
//	POST /v1/pipeline/chunk                      - Chunk boundary proposals
//	POST /v1/pipeline/contextualize              - Contextual header generation
//	POST /v1/pipeline/preview-automatic          - Dry run of the automatic pipeline
//	POST /v1/pipeline/operations/:id/cancel      - Cancel a tracked operation
//	POST /v1/projects                            - Create project
//	GET  /v1/projects                            - List projects
//	DELETE /v1/projects/:project_id              - Delete project and its index
//	GET  /v1/projects/:project_id/documents      - List project documents
//	GET  /v1/projects/documents/:document_id/chunks - List document chunks
//	POST /v1/projects/:project_id/documents/ingest  - Ingest one document
//
// # Inference Gateway (cmd/inference)
//
//	POST /v1/chat/completions  - OpenAI-compatible chat (batch or SSE)
//	POST /v1/completions       - OpenAI-compatible text completion
//	POST /v1/embeddings        - OpenAI-compatible embeddings
//	POST /v1/rerank            - Cross-encoder rerank proxy
//
// # Reranker (cmd/reranker)
//
//	POST /v1/rerank  - Score and rank candidate documents
//	GET  /v1/health  - Runtime health with loaded-model report
//
// # RAG Orchestrator (cmd/rag)
//
//	GET  /v1/rag/status                           - Hybrid surface status
//	POST /v1/rag/chat/stateless[/stream]          - Hybrid chat
//	POST /v1/rag/chat/session[/stream]            - Hybrid chat with memory
//	GET  /v1/rag/reranked/status                  - Reranked surface status
//	POST /v1/rag/reranked/chat/stateless[/stream] - Reranked chat
//	POST /v1/rag/reranked/chat/session[/stream]   - Reranked chat with memory
//	GET/POST /v1/sessions, GET/PATCH/DELETE /v1/sessions/:id - Session CRUD
//
// # Error Handling
//
// Every non-2xx JSON response carries the envelope:
//
//	{"detail": "<message>"}
//
// with the status derived from the domain error kind: 400 validation,
// 404 not found, 499 cancelled, 502 upstream failure.
//
// # Streaming
//
// The orchestrator streams named SSE events (meta, delta, done, error);
// the gateway streams OpenAI-style "data: <chunk json>" frames ending
// with "data: [DONE]". Both run over the same flusher-backed writer.
//
// # Cancellation
//
// Pipeline endpoints honor an optional X-Operation-Id header. The id
// binds the request context to the operation registry so a later
// cancel call aborts in-flight chunking, contextualization, or
// embedding work.
package handlers
