package artifact

import "strings"

// DefaultNamespace prefixes every key written by topichub.
const DefaultNamespace = "tdh:"

// Keys builds the per-job key families under a namespace.
type Keys struct {
	Namespace string
}

// NewKeys returns Keys for namespace, defaulting to DefaultNamespace.
func NewKeys(namespace string) Keys {
	if namespace == "" {
		namespace = DefaultNamespace
	}
	return Keys{Namespace: namespace}
}

// Job is the job status record key.
func (k Keys) Job(id string) string { return k.Namespace + "job:" + id }

// Result is the clustering result key.
func (k Keys) Result(id string) string { return k.Namespace + "job:" + id + ":result" }

// Texts is the input texts key.
func (k Keys) Texts(id string) string { return k.Namespace + "texts:" + id }

// Vectors is the cached vector matrix key.
func (k Keys) Vectors(id string) string { return k.Namespace + "vectors:" + id }

// All returns every key owned by job id.
func (k Keys) All(id string) []string {
	return []string{k.Job(id), k.Result(id), k.Texts(id), k.Vectors(id)}
}

// JobPrefix is the scan prefix for job records.
func (k Keys) JobPrefix() string { return k.Namespace + "job:" }

// JobID extracts the job id from a job record key. Result keys and foreign
// keys report false.
func (k Keys) JobID(key string) (string, bool) {
	id, ok := strings.CutPrefix(key, k.JobPrefix())
	if !ok || id == "" || strings.Contains(id, ":") {
		return "", false
	}
	return id, true
}
