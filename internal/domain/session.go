package domain

// RoomURL identifies an externally hosted meeting room.
type RoomURL string

// WorkerID is the OS process id of a spawned bot worker.
type WorkerID int

// Liveness is the observed state of a worker process.
type Liveness string

const (
	LivenessRunning  Liveness = "running"
	LivenessFinished Liveness = "finished"
)

// RoomCredential is everything a bot needs to join a room. It is produced by
// one provisioning call and consumed by exactly one launch.
type RoomCredential struct {
	RoomURL RoomURL
	Token   string
}
