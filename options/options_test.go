package options

import (
	"reflect"
	"testing"
)

func TestToFlags(t *testing.T) {
	tests := map[string]struct {
		s        any
		expected []string
	}{
		"empty": {
			s:        ManagementOptions{},
			expected: nil,
		},
		"name": {
			s: ManagementOptions{
				Name: "devenv-web",
			},
			expected: []string{
				"--name", "devenv-web",
			},
		},
		"name and detach": {
			s: ManagementOptions{
				Name:   "devenv-web",
				Detach: true,
			},
			expected: []string{
				"--detach", // bools don't get a value, just include the flag name.
				"--name", "devenv-web",
			},
		},
		"env": {
			s: ProcessOptions{
				Env: map[string]string{
					"a": "1",
					"b": "2",
					"d": "3",
					"c": "4",
				},
			},
			expected: []string{
				"--env", "a=1,b=2,c=4,d=3",
			},
		},
		"management and process combined": {
			s: struct {
				ProcessOptions
				ManagementOptions
			}{
				ProcessOptions: ProcessOptions{
					Interactive: true,
				},
				ManagementOptions: ManagementOptions{
					Remove: true,
					Volume: "/foo/bar:/gorunac/dev",
				},
			},
			expected: []string{
				"--interactive",
				"--remove",
				"--volume", "/foo/bar:/gorunac/dev",
			},
		},
		"mounts": {
			s: ManagementOptions{
				Mount: []string{
					"type=bind,source=/home/user/project,target=/app",
					"type=bind,source=/home/user/.config/devenv,target=/home/node/.config/devenv,readonly",
				},
			},
			expected: []string{
				"--mount", "type=bind,source=/home/user/project,target=/app",
				"--mount", "type=bind,source=/home/user/.config/devenv,target=/home/node/.config/devenv,readonly",
			},
		},
	}

	for testName, testCase := range tests {
		t.Run(testName, func(t *testing.T) {
			got := ToArgs(&testCase.s)
			if !reflect.DeepEqual(got, testCase.expected) {
				t.Errorf("got %v, want %v", got, testCase.expected)
			}
		})
	}
}
