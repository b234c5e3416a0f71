package activity

// builderBase holds the fields common to every builder: an optional
// caller-chosen id/parent, and the resolved level (kind-dependent default
// per spec.md §4.A: commands default to debug, everything else to info).
type builderBase struct {
	id       *uint64
	parent   *uint64
	level    Level
	hasLevel bool
}

func (b *builderBase) resolve(scope *Scope, defaultLevel Level) (id uint64, parent *uint64, level Level) {
	id = nextID()
	if b.id != nil {
		id = *b.id
	}
	level = defaultLevel
	if b.hasLevel {
		level = b.level
	}
	parent = b.parent
	if parent == nil {
		if pid, plevel, ok := scope.current(); ok {
			parent = &pid
			if !b.hasLevel {
				level = plevel
			}
		}
	}
	return id, parent, level
}

func emitStart(ev Event) {
	send(ev)
}

// BuildBuilder constructs a Build activity.
type BuildBuilder struct {
	builderBase
	name           string
	derivationPath string
}

func Build(name string) *BuildBuilder { return &BuildBuilder{name: name} }

func (b *BuildBuilder) ID(id uint64) *BuildBuilder           { b.id = &id; return b }
func (b *BuildBuilder) Parent(id uint64) *BuildBuilder       { b.parent = &id; return b }
func (b *BuildBuilder) Level(l Level) *BuildBuilder          { b.level, b.hasLevel = l, true; return b }
func (b *BuildBuilder) DerivationPath(p string) *BuildBuilder { b.derivationPath = p; return b }

func (b *BuildBuilder) Start(scope *Scope) *Handle {
	id, parent, level := b.resolve(scope, LevelInfo)
	h := newTracedHandle(KindBuild, level, id, b.name, parent)
	emitStart(Event{
		ActivityKind: KindBuild, Event: EventStart, ID: id, Timestamp: Now(),
		Name: b.name, ParentID: parent, DerivationPath: b.derivationPath,
	})
	return h
}

// FetchBuilder constructs a Fetch activity.
type FetchBuilder struct {
	builderBase
	kind FetchKind
	name string
	url  string
}

func Fetch(kind FetchKind, name string) *FetchBuilder { return &FetchBuilder{kind: kind, name: name} }

func (b *FetchBuilder) ID(id uint64) *FetchBuilder     { b.id = &id; return b }
func (b *FetchBuilder) Parent(id uint64) *FetchBuilder { b.parent = &id; return b }
func (b *FetchBuilder) Level(l Level) *FetchBuilder    { b.level, b.hasLevel = l, true; return b }
func (b *FetchBuilder) URL(u string) *FetchBuilder     { b.url = u; return b }

func (b *FetchBuilder) Start(scope *Scope) *Handle {
	id, parent, level := b.resolve(scope, LevelInfo)
	h := newTracedHandle(KindFetch, level, id, b.name, parent)
	emitStart(Event{
		ActivityKind: KindFetch, Event: EventStart, ID: id, Timestamp: Now(),
		Name: b.name, ParentID: parent, FetchKind: b.kind, URL: b.url,
	})
	return h
}

// EvaluateBuilder constructs an Evaluate activity.
type EvaluateBuilder struct {
	builderBase
	name string
}

func Evaluate(name string) *EvaluateBuilder { return &EvaluateBuilder{name: name} }

func (b *EvaluateBuilder) ID(id uint64) *EvaluateBuilder     { b.id = &id; return b }
func (b *EvaluateBuilder) Parent(id uint64) *EvaluateBuilder { b.parent = &id; return b }
func (b *EvaluateBuilder) Level(l Level) *EvaluateBuilder    { b.level, b.hasLevel = l, true; return b }

func (b *EvaluateBuilder) Start(scope *Scope) *Handle {
	id, parent, level := b.resolve(scope, LevelInfo)
	h := newTracedHandle(KindEvaluate, level, id, b.name, parent)
	emitStart(Event{ActivityKind: KindEvaluate, Event: EventStart, ID: id, Timestamp: Now(), Name: b.name, ParentID: parent})
	return h
}

// TaskBuilder constructs a Task activity.
type TaskBuilder struct {
	builderBase
	name string
}

func Task() *TaskBuilder { return &TaskBuilder{} }

func (b *TaskBuilder) ID(id uint64) *TaskBuilder     { b.id = &id; return b }
func (b *TaskBuilder) Parent(id uint64) *TaskBuilder { b.parent = &id; return b }
func (b *TaskBuilder) Level(l Level) *TaskBuilder    { b.level, b.hasLevel = l, true; return b }
func (b *TaskBuilder) Name(n string) *TaskBuilder    { b.name = n; return b }

func (b *TaskBuilder) Start(scope *Scope) *Handle {
	id, parent, level := b.resolve(scope, LevelInfo)
	h := newTracedHandle(KindTask, level, id, b.name, parent)
	emitStart(Event{ActivityKind: KindTask, Event: EventStart, ID: id, Timestamp: Now(), Name: b.name, ParentID: parent})
	return h
}

// TaskWithID starts a Task activity with a pre-assigned id, the common case
// where the DAG runner has already allocated a stable id per task node.
func TaskWithID(scope *Scope, id uint64, name string) *Handle {
	return Task().ID(id).Name(name).Start(scope)
}

// CommandBuilder constructs a Command activity. Commands default to debug
// level (spec.md §4.A), unlike every other kind.
type CommandBuilder struct {
	builderBase
	name string
}

func Command(name string) *CommandBuilder { return &CommandBuilder{name: name} }

func (b *CommandBuilder) ID(id uint64) *CommandBuilder     { b.id = &id; return b }
func (b *CommandBuilder) Parent(id uint64) *CommandBuilder { b.parent = &id; return b }
func (b *CommandBuilder) Level(l Level) *CommandBuilder    { b.level, b.hasLevel = l, true; return b }

func (b *CommandBuilder) Start(scope *Scope) *Handle {
	id, parent, level := b.resolve(scope, LevelDebug)
	h := newTracedHandle(KindCommand, level, id, b.name, parent)
	emitStart(Event{ActivityKind: KindCommand, Event: EventStart, ID: id, Timestamp: Now(), Name: b.name, ParentID: parent})
	return h
}

// OperationBuilder constructs a generic Operation activity.
type OperationBuilder struct {
	builderBase
	name string
}

func Operation(name string) *OperationBuilder { return &OperationBuilder{name: name} }

func (b *OperationBuilder) ID(id uint64) *OperationBuilder     { b.id = &id; return b }
func (b *OperationBuilder) Parent(id uint64) *OperationBuilder { b.parent = &id; return b }
func (b *OperationBuilder) Level(l Level) *OperationBuilder    { b.level, b.hasLevel = l, true; return b }

func (b *OperationBuilder) Start(scope *Scope) *Handle {
	id, parent, level := b.resolve(scope, LevelInfo)
	h := newTracedHandle(KindOperation, level, id, b.name, parent)
	emitStart(Event{ActivityKind: KindOperation, Event: EventStart, ID: id, Timestamp: Now(), Name: b.name, ParentID: parent})
	return h
}

// Message emits a one-shot Message event outside any activity lifecycle —
// there is no handle, no Start/Complete pairing, just a timestamped line.
func Message(scope *Scope, level Level, text string) {
	var parent *uint64
	if pid, _, ok := scope.current(); ok {
		parent = &pid
	}
	send(Event{ActivityKind: KindMessage, ID: nextID(), Timestamp: Now(), Level: level, Text: text, ParentID: parent})
}
