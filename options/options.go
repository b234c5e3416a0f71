// Package options builds CLI argument lists for the container run flags
// supervisor.ContainerTarget shells out with, via struct tags instead of
// hand-appending flag strings.
package options

import (
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
)

// ManagementOptions are the docker/podman `run` flags that control how the
// container itself is named, networked, and mounted — the subset
// supervisor.ContainerTarget actually sets (Name, Volume, Network), plus a
// few neighboring flags from the same "management" group a caller is likely
// to want next (Publish, Label, Mount, Env passthrough is ProcessOptions).
type ManagementOptions struct {
	// CIDFile writes the container ID to the path provided
	CIDFile string `flag:"--cidfile"`
	// Detach runs the container and detaches from the process
	Detach bool `flag:"--detach"`
	// DNS is the DNS nameserver IP address
	DNS string `flag:"--dns"`
	// DNSOption specifies DNS options
	DNSOption string `flag:"--dns-option"`
	// DNSSearch specifies DNS search domains
	DNSSearch string `flag:"--dns-search"`
	// Entrypoint overrides the entrypoint of the image
	Entrypoint string `flag:"--entrypoint"`
	// Label adds a key=value label to the container
	Label map[string]string `flag:"--label"`
	// Mount adds a mount to the container (format: type=<>,source=<>,target=<>,readonly)
	Mount []string `flag:"--mount"`
	// Name uses the specified name as the container ID
	Name string `flag:"--name"`
	// Network attaches the container to a network
	Network string `flag:"--network"`
	// Publish publishes a port from container to host (format: [host-ip:]host-port:container-port[/protocol])
	Publish string `flag:"--publish"`
	// Platform is the platform for the image if it's multi-platform
	Platform string `flag:"--platform"`
	// Remove removes the container after it stops
	Remove bool `flag:"--remove"`
	// TmpFS adds a tmpfs mount to the container at the given path
	TmpFS string `flag:"--tmpfs"`
	// Volume bind mounts a volume into the container
	Volume string `flag:"--volume"`
}

// ProcessOptions are the flags that control the process launched inside the
// container.
type ProcessOptions struct {
	// Env sets environment variables (format: key=value)
	Env map[string]string `flag:"--env"`
	// EnvFile reads in a file of environment variables (key=value format, ignores # comments and blank lines)
	EnvFile string `flag:"--env-file"`
	// Interactive keeps the standard input open even if not attached
	Interactive bool `flag:"--interactive"`
	// TTY opens a TTY with the process
	TTY bool `flag:"--tty"`
	// User sets the user for the process (format: name|uid[:gid])
	User string `flag:"--user"`
	// WorkDir sets the initial working directory inside the container
	WorkDir string `flag:"--workdir"`
}

// ToArgs creates an array of strings that you can pass to exec.Command(...) as CLI args.
func ToArgs[T any](s *T) []string {
	if s == nil {
		s = new(T)
	}
	var ret []string
	st := reflect.TypeOf(*s)
	sv := reflect.ValueOf(*s)
	if st.Kind() == reflect.Pointer {
		sv = reflect.Indirect(sv)
		st = sv.Type()
	}
	for i := range st.NumField() {
		field := st.Field(i)
		fv := sv.Field(i)
		if field.Anonymous && field.Type.Kind() == reflect.Struct {
			fvi := fv.Interface()
			ret = append(ret, ToArgs(&fvi)...)
			continue
		}
		flagTag, ok := field.Tag.Lookup("flag")
		if !ok {
			continue
		}
		flagParts := strings.Split(flagTag, ",")
		flagName := flagParts[0]
		keepZero := false
		if len(flagParts) > 1 {
			if strings.ToLower(flagParts[1]) == "keepZero" {
				keepZero = true
			}
		}
		v := reflect.ValueOf(fv.Interface())

		if !keepZero && v.IsZero() {
			continue
		}
		if ret == nil {
			ret = []string{}
		}
		flagValue := ""
		fieldKind := field.Type.Kind()
		if fieldKind == reflect.Array || fieldKind == reflect.Slice {
			for i := 0; i < fv.Len(); i++ {
				av := fv.Index(i)
				ret = append(ret, flagName)
				ret = append(ret, fmt.Sprintf("%v", av))
			}
			continue
		} else if fieldKind == reflect.Map {
			mapVals := []string{}
			m := v.Interface().(map[string]string)
			keyIter := maps.Keys(m)
			keys := slices.Sorted(keyIter)
			for _, k := range keys {
				v := m[k]
				mapVals = append(mapVals, fmt.Sprintf("%v=%v", k, v))
			}
			flagValue = strings.Join(mapVals, ",")
		} else if fieldKind != reflect.Bool {
			flagValue = fmt.Sprintf("%v", fv.Interface())
		}
		ret = append(ret, flagName)
		if flagValue != "" {
			ret = append(ret, flagValue)
		}
	}
	return ret
}
