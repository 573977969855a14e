package consts

import "time"

// Tunable Options
const (
	// For Underlying Networking
	// PACKET_RECV_QUEUE_SIZE is the number of received packets buffered per connection
	PACKET_RECV_QUEUE_SIZE = 64
	// MAX_PACKET_PAYLOAD_LEN is the maximum payload length of a client packet
	MAX_PACKET_PAYLOAD_LEN = 1024 * 1024

	// For Gate Service
	// CLIENT_PROXY_SEND_QUEUE_SIZE is the number of responses buffered per client proxy
	CLIENT_PROXY_SEND_QUEUE_SIZE = 256
	// CLIENT_PROXY_SET_TCP_NO_DELAY = true sets client proxies to TcpNoDelay
	CLIENT_PROXY_SET_TCP_NO_DELAY = true

	// For Game Service
	// GAME_SERVICE_PACKET_QUEUE_SIZE is the max packet queue length for game service
	GAME_SERVICE_PACKET_QUEUE_SIZE = 10000
	// GAME_SERVICE_TICK_INTERVAL is the tick interval to tick timers in game service
	GAME_SERVICE_TICK_INTERVAL = time.Millisecond * 10 // server tick interval => affect timer resolution

	// ASYNC_JOB_QUEUE_MAXLEN is the job queue length of each async worker group
	ASYNC_JOB_QUEUE_MAXLEN = 1024

	// For Audit Log
	// AUDIT_WRITE_RETRIES is the number of attempts of each audit write
	AUDIT_WRITE_RETRIES = 5
	// AUDIT_RETRY_INTERVAL is the wait between audit storage attempts
	AUDIT_RETRY_INTERVAL = time.Second

	// For Anti-Cheat Sessions
	// ACTION_HISTORY_CAP is the capacity of each identity's action timestamp ring
	ACTION_HISTORY_CAP = 1000
	// MERGE_HISTORY_CAP is the capacity of each identity's merge timestamp ring
	MERGE_HISTORY_CAP = 1000
	// INTERVAL_HISTORY_CAP is the capacity of each identity's interval ring
	INTERVAL_HISTORY_CAP = 100
	// MIN_INTERVAL_SAMPLES is the number of intervals needed before scoring
	MIN_INTERVAL_SAMPLES = 10
)

// Debug Options
const (
	// DEBUG_PACKETS prints packet send/recv debug logs
	DEBUG_PACKETS = false
	// DEBUG_CLIENTS prints clients operation debug logs
	DEBUG_CLIENTS = false
	// DEBUG_BATCH prints batch flush debug logs
	DEBUG_BATCH = false
)
