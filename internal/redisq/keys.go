package redisq

import "fmt"

// Keys builds namespaced Redis keys of the form <env>:<namespace>:<suffix>
// so multiple deployments can share one Redis instance.
type Keys struct {
	prefix string
}

// NewKeys creates a key builder for the given environment and namespace.
func NewKeys(env, namespace string) *Keys {
	if env == "" {
		env = "dev"
	}
	if namespace == "" {
		namespace = "gradeflow"
	}
	return &Keys{prefix: env + ":" + namespace}
}

// Job returns the key storing one job record.
func (k *Keys) Job(id string) string {
	return fmt.Sprintf("%s:job:%s", k.prefix, id)
}

// Waiting returns the list key holding jobs ready to run.
func (k *Keys) Waiting() string {
	return k.prefix + ":queue:waiting"
}

// Delayed returns the sorted-set key holding retry-scheduled jobs,
// scored by ready-at unix time.
func (k *Keys) Delayed() string {
	return k.prefix + ":queue:delayed"
}

// Active returns the sorted-set key holding in-flight jobs,
// scored by last-heartbeat unix time.
func (k *Keys) Active() string {
	return k.prefix + ":queue:active"
}

// Completed returns the set key of terminally completed job ids.
func (k *Keys) Completed() string {
	return k.prefix + ":queue:completed"
}

// Failed returns the set key of terminally failed job ids.
func (k *Keys) Failed() string {
	return k.prefix + ":queue:failed"
}

// Cache returns the key for one cache entry.
func (k *Keys) Cache(key string) string {
	return fmt.Sprintf("%s:cache:%s", k.prefix, key)
}

// Tag returns the reverse-index set key holding cache keys carrying a tag.
func (k *Keys) Tag(tag string) string {
	return fmt.Sprintf("%s:cache-tag:%s", k.prefix, tag)
}
