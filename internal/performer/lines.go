package performer

import (
	"fmt"
	"math/rand/v2"
	"time"
)

var openingLines = []string{
	`Alright, %[1]s, you want me to sing "%[2]s"? I can give it a shot! Let me see if I can find it...`,
	`"%[2]s", huh? Sounds interesting, %[1]s! Let me get everything ready. This might take a moment!`,
	`A song request from %[1]s! You're asking for "%[2]s"? Okay, okay, I'll prepare it. Hope it turns out good!`,
}

var progressLines = []string{
	`Still working on "%[1]s"... It's about %[2]d%% done! Getting there.`,
	`Making good progress on "%[1]s"! Currently at %[2]d%%. Hope you're looking forward to it!`,
}

var postPlayLines = []string{
	`That was "%s"! How was it? I get a bit nervous performing, hehe.`,
	`Phew, all done with "%s"! Hope you enjoyed it! What should I sing next time?`,
	`And that's "%s"! Did it sound alright? I practiced a bit!`,
}

var autoTalkTopics = []string{
	"commenting on how quiet chat is",
	"complaining about money problems",
	"mentioning something about school",
	"talking about her studies",
	"wondering if anyone is even listening",
	"sharing a random thought",
	"asking a rhetorical question to chat",
}

func pick(options []string) string {
	return options[rand.IntN(len(options))]
}

func openingLine(username, title string) string {
	return fmt.Sprintf(pick(openingLines), username, title)
}

func progressLine(title string, percent int) string {
	return fmt.Sprintf(pick(progressLines), title, percent)
}

func prePlayLine(title string, direct bool) string {
	if direct {
		return fmt.Sprintf(`The voice studio is down, so here's the original "%s"!`, title)
	}

	return fmt.Sprintf(`Alright, "%s" is ready! Here it goes... let me know what you think!`, title)
}

func postPlayLine(title string, direct bool) string {
	if direct {
		return fmt.Sprintf(`Finished playing the original for "%s" since the conversion service wasn't available.`, title)
	}

	return fmt.Sprintf(pick(postPlayLines), title)
}

func autoTalkLine() string {
	return fmt.Sprintf("The AI should start talking on her own about %s. Respond with only a single line.",
		pick(autoTalkTopics))
}

func songAckLine(intentTitle string, directMedia bool) string {
	if directMedia {
		return "I've been asked to play a video from YouTube. Give a reluctant response about having to do this."
	}

	return fmt.Sprintf(`I've been asked to sing "%s". Give a reluctant response about having to sing this.`, intentTitle)
}

func busyLine(username, processingTitle string, singing bool) string {
	activity := "singing right now"
	if !singing {
		title := processingTitle
		if title == "" {
			title = "a song"
		}

		activity = fmt.Sprintf(`getting "%s" ready`, title)
	}

	return fmt.Sprintf("Whoa there, %s! I'm still in the middle of %s. One at a time, please! Let's finish this one first.",
		username, activity)
}

// stallLine picks the stall prompt bucket for the time spent processing.
func (p *Performer) stallLine(title string, elapsed time.Duration) string {
	switch {
	case elapsed < p.settings.StallEarly:
		return fmt.Sprintf(`You're excited about playing the song "%s" soon. `+
			"Hype up chat while they wait for the song to process. Keep it brief.", title)
	case elapsed < p.settings.StallLate:
		return fmt.Sprintf(`The song "%s" is still processing. Reassure chat that it's coming soon `+
			"and keep them entertained. Be impatient, but hype them up.", title)
	default:
		return fmt.Sprintf(`The song "%s" is taking a while to process. Complain a bit about the wait `+
			"but keep chat entertained. You're getting frustrated but trying to keep everyone excited.", title)
	}
}
