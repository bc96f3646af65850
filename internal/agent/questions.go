package agent

import "sort"

// questionBank holds the scenario questions served per topic. Adding a
// topic means adding an entry here; topics line up with the knowledge
// domains the indexes are built for.
var questionBank = map[string][]string{
	"mml": {
		"What does MML stand for",
		"Explain ADP protocol",
		"What are the possible states for a mml session",
		"Explain how the device is seized",
	},
	"alarm_handling": {
		"Explain how the alarm handling is done on APG",
		"Which are the main functional blocks involved in alarm handling",
		"which is the command used to view the alarms on APG",
	},
}

// Topics lists the topics with assessment questions, sorted.
func Topics() []string {
	topics := make([]string, 0, len(questionBank))
	for t := range questionBank {
		topics = append(topics, t)
	}
	sort.Strings(topics)
	return topics
}
