package store

import "path/filepath"

// Record kinds map one-to-one to directories under .ai/db/
type Kind string

const (
	KindThread    Kind = "threads"
	KindBridge    Kind = "bridges"
	KindSynthesis Kind = "synthesis"
	KindArchive   Kind = "archives"
)

// Shared-cognition subdirectories under .ai/db/shared/
const (
	SharedPublished     = "published"
	SharedSubscriptions = "subscriptions"
	SharedProposalsOut  = "proposals/outgoing"
	SharedProposalsIn   = "proposals/incoming"
	SharedBridges       = "bridges"
)

// Paths resolves every file the service owns under the project-local
// state directory (default ".ai").
type Paths struct {
	Root string
}

// DefaultRoot returns the state directory for a project directory
func DefaultRoot(projectDir string) string {
	return filepath.Join(projectDir, ".ai")
}

func (p Paths) Config() string       { return filepath.Join(p.Root, "config.json") }
func (p Paths) UserRules() string    { return filepath.Join(p.Root, "user_rules.json") }
func (p Paths) Heartbeat() string    { return filepath.Join(p.Root, "heartbeat.json") }
func (p Paths) Focus() string        { return filepath.Join(p.Root, "focus.json") }
func (p Paths) PIDFile() string      { return filepath.Join(p.Root, "processor.pid") }
func (p Paths) Socket() string       { return filepath.Join(p.Root, "processor.sock") }
func (p Paths) ProcessorLog() string { return filepath.Join(p.Root, "processor.log") }
func (p Paths) InjectLog() string    { return filepath.Join(p.Root, "inject.log") }
func (p Paths) TmpRecall() string    { return filepath.Join(p.Root, "tmp", "recall") }

// DB returns the directory for a record kind
func (p Paths) DB(kind Kind) string {
	return filepath.Join(p.Root, "db", string(kind))
}

// Record returns the file path for one record
func (p Paths) Record(kind Kind, id string) string {
	return filepath.Join(p.DB(kind), id+".json")
}

// Shared returns a shared-cognition subdirectory
func (p Paths) Shared(sub string) string {
	return filepath.Join(p.Root, "db", "shared", filepath.FromSlash(sub))
}

// SharedRecord returns the file path for one shared record
func (p Paths) SharedRecord(sub, id string) string {
	return filepath.Join(p.Shared(sub), id+".json")
}

// AllDirs lists every directory Open must create
func (p Paths) AllDirs() []string {
	return []string{
		p.Root,
		p.DB(KindThread),
		p.DB(KindBridge),
		p.DB(KindSynthesis),
		p.DB(KindArchive),
		p.Shared(SharedPublished),
		p.Shared(SharedSubscriptions),
		p.Shared(SharedProposalsOut),
		p.Shared(SharedProposalsIn),
		p.Shared(SharedBridges),
		p.TmpRecall(),
	}
}
