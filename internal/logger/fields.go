package logger

// Standard field keys for structured logging.
// Use these keys consistently across log statements so that upload, task and
// cleanup events can be correlated in log aggregation.
const (
	// Upload pipeline
	KeyUploadID   = "upload_id"   // Client-chosen upload session identifier
	KeyChunkIndex = "chunk_index" // 0-based chunk index within a session
	KeyChunks     = "chunks"      // Chunk count
	KeyFileName   = "file_name"   // Original file name
	KeySize       = "size"        // Size in bytes
	KeyFingerprint = "fingerprint" // Content fingerprint (hex)

	// Task lifecycle
	KeyTaskID   = "task_id"  // Server-assigned task identifier
	KeyTaskName = "task_name" // Client-visible task name
	KeyStatus   = "status"   // Task status
	KeyProgress = "progress" // Progress percent 0..100
	KeySpeed    = "speed"    // Encoder speed (realtime multiple)

	// Storage & cleanup
	KeyPath       = "path"        // File or directory path
	KeyBytesFreed = "bytes_freed" // Bytes reclaimed by cleanup
	KeyCategory   = "category"    // Disk usage category

	// Transport
	KeyClientIP = "client_ip" // Remote client address
	KeyDuration = "duration_ms"
	KeyError    = "error"
)
