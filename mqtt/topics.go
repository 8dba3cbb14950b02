package mqtt

import "strings"

// DefaultTopicPrefix is used when no prefix is configured.
const DefaultTopicPrefix = "hmbridge"

// Topics builds the bridge's topic names.
type Topics struct {
	Prefix string
}

func (t Topics) prefix() string {
	if t.Prefix == "" {
		return DefaultTopicPrefix
	}
	return strings.TrimSuffix(t.Prefix, "/")
}

// Status is the retained online/offline topic.
func (t Topics) Status() string {
	return t.prefix() + "/status"
}

// Event is the topic for a datapoint change: <prefix>/event/<address>/<datapoint>.
func (t Topics) Event(address, datapoint string) string {
	return t.prefix() + "/event/" + topicLevel(address) + "/" + topicLevel(datapoint)
}

// Callback is the topic for any other gateway callback: <prefix>/callback/<method>.
func (t Topics) Callback(method string) string {
	return t.prefix() + "/callback/" + topicLevel(method)
}

var levelReplacer = strings.NewReplacer("/", "_", "+", "_", "#", "_")

// topicLevel makes s safe as a single topic level.
func topicLevel(s string) string {
	if s == "" {
		return "_"
	}
	return levelReplacer.Replace(s)
}
