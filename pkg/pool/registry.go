// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pool

import "sort"

// Registry holds server configurations per namespace. It is pure data: no
// I/O and no locking of its own. The owning Pool serializes all access.
type Registry struct {
	// namespaces maps namespace -> server name -> config
	namespaces map[string]map[string]ServerConfig
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		namespaces: make(map[string]map[string]ServerConfig),
	}
}

// Register inserts or replaces a config. A live connection under the same
// name is deliberately left untouched; picking up the new config requires an
// explicit re-warmup.
func (r *Registry) Register(namespace, name string, config ServerConfig) {
	servers, ok := r.namespaces[namespace]
	if !ok {
		servers = make(map[string]ServerConfig)
		r.namespaces[namespace] = servers
	}
	servers[name] = config.clone()
}

// Lookup returns the config registered under the name.
func (r *Registry) Lookup(namespace, name string) (ServerConfig, bool) {
	servers, ok := r.namespaces[namespace]
	if !ok {
		return ServerConfig{}, false
	}
	config, ok := servers[name]
	if !ok {
		return ServerConfig{}, false
	}
	return config.clone(), true
}

// Remove deletes the config registered under the name.
func (r *Registry) Remove(namespace, name string) {
	if servers, ok := r.namespaces[namespace]; ok {
		delete(servers, name)
		if len(servers) == 0 {
			delete(r.namespaces, namespace)
		}
	}
}

// Names returns the sorted server names registered in the namespace.
func (r *Registry) Names(namespace string) []string {
	servers := r.namespaces[namespace]
	names := make([]string, 0, len(servers))
	for name := range servers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Namespaces returns the sorted namespaces with at least one registration.
func (r *Registry) Namespaces() []string {
	names := make([]string, 0, len(r.namespaces))
	for name := range r.namespaces {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
