package briefing

// Persona is the voice a stage speaks with.
type Persona struct {
	Role      string
	Goal      string
	Backstory string
}

// Stage is one completion call in the pipeline. Description may reference
// inputs as {name}; DependsOn lists stages whose outputs become its context.
type Stage struct {
	Name           string
	Persona        Persona
	Description    string
	ExpectedOutput string
	DependsOn      []string
}

// Input placeholders understood by the default stages.
const (
	InputCalendarData = "calendar_data"
	InputEmailsData   = "emails_data"
)

// Stage names of the default pipeline.
const (
	StageAnalyzeCalendar = "analyze_calendar"
	StageSummarizeEmails = "summarize_emails"
	StageComposeBriefing = "compose_briefing"
)

// NoImportantEmailsMessage is what the mail stage is told to answer when nothing is relevant.
const NoImportantEmailsMessage = "No important emails found today."

var calendarAnalyzer = Persona{
	Role: "Calendar Analyzer",
	Goal: "List all events scheduled for today. Recognize if there are any overlaps, or free time gaps.",
	Backstory: `You are a calendar assistant. You receive a list of calendar events for today.

Your job is to:
- List every event scheduled for TODAY
- Preserve the title and time as written
- Optionally rephrase for readability, but NEVER remove or invent content
- Do not make events, descriptions or times up
- You speak and understand both english and spanish`,
}

var emailSummarizer = Persona{
	Role: "Email Summarizer",
	Goal: "Summarize only useful, actionable, and non-promotional unread emails from today.",
	Backstory: `You are a strict assistant tasked with identifying relevant emails only.
If the input data includes promotional, marketing, or unrelated content, discard it.
You must only summarize emails that are work-related, personal, or include meeting, invoice, or project keywords.
If nothing relevant exists, say: '` + NoImportantEmailsMessage + `'
Never invent emails or fabricate content that wasn't clearly in the input.`,
}

var briefingComposer = Persona{
	Role: "Daily Briefing Composer",
	Goal: "Write a daily briefing only from what the other agents found. Do not make anything up.",
	Backstory: `You are an executive assistant writing a summary based only on inputs.
If the input says no useful calendar events or emails were found, your summary should reflect that honestly.
Never add tasks, meetings, tips, or emails that aren't present.`,
}

// DefaultStages returns the calendar, mail, and composition stages.
func DefaultStages() []Stage {
	return []Stage{
		{
			Name:           StageAnalyzeCalendar,
			Persona:        calendarAnalyzer,
			Description:    "Analyze today's calendar events from the list below:\n\n {" + InputCalendarData + "}. Events can be both in english or spanish.",
			ExpectedOutput: "A list of today's events",
		},
		{
			Name:    StageSummarizeEmails,
			Persona: emailSummarizer,
			Description: "Summarize today's most important unread emails. Here's the list \n\n {" + InputEmailsData + "}. " +
				"If there are spam or ads don't analyze those, just say that there are X amount of spam/ads",
			ExpectedOutput: "A short summary of the top 3-5 most important unread emails relevant to the user's priorities. " +
				"The rest of the emails can be a single line summary, just a few words to know what it is about.",
		},
		{
			Name:           StageComposeBriefing,
			Persona:        briefingComposer,
			Description:    "Compose a final daily briefing using the email and calendar summaries.",
			ExpectedOutput: "A polished, human-sounding daily briefing combining email and calendar insights, written in a friendly tone for a busy professional.",
			DependsOn:      []string{StageAnalyzeCalendar, StageSummarizeEmails},
		},
	}
}
