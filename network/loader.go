package network

type (
	// Loader is a single network job, identified by its URL.
	// Lifecycle events must be delivered to watchers
	// asynchronously, on the same runtime the [Network] runs on.
	Loader interface {
		URL() string
		// Load starts the job.
		Load()
		// Abort requests cancellation. Completion is still
		// signaled by a terminal event ([Abort] at the latest).
		Abort()
		// Watch subscribes to lifecycle events.
		Watch(watcher func(Event)) (unwatch func())
	}
	// EventType enumerates loader and queue notifications.
	// Values may be combined into a mask for [Network.On].
	EventType uint32
	// Event describes a loader lifecycle change.
	Event struct {
		Loader     Loader
		Err        error
		StatusText string
		Type       EventType
		Loaded     int64
		Total      int64
		Status     int
	}
)

const (
	LoadStart EventType = 1 << iota
	Progress
	Abort
	Error
	Timeout
	LoadEnd
	// Pause is sent by [Network.Pause].
	Pause
	// Resume is sent by [Network.Resume].
	Resume

	// Terminal events end a loader's flight.
	Terminal = Abort | Error | Timeout | LoadEnd
	// LoaderEvents are the events a [Loader] emits.
	LoaderEvents = LoadStart | Progress | Terminal
	// AllEvents subscribes to every notification.
	AllEvents = LoaderEvents | Pause | Resume
)

// IsTerminal reports whether t ends a loader's flight.
func (t EventType) IsTerminal() bool { return t&Terminal != 0 }

func (t EventType) String() string {
	switch t {
	case LoadStart:
		return "loadstart"
	case Progress:
		return "progress"
	case Abort:
		return "abort"
	case Error:
		return "error"
	case Timeout:
		return "timeout"
	case LoadEnd:
		return "loadend"
	case Pause:
		return "pause"
	case Resume:
		return "resume"
	default:
		return "unknown"
	}
}
