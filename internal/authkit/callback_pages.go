package authkit

import (
	"bytes"
	"errors"
	"html/template"
)

type callbackPage struct {
	Title       string
	Intro       string
	Detail      string
	Lead        string
	Causes      []string
	Steps       []string
	ActionLabel string
	Highlighted bool
}

var callbackPageTemplate = template.Must(template.New("callback").Parse(`<!doctype html>
<html lang="en">
<head><meta charset="utf-8"><title>{{.Title}}</title></head>
<body>
<h2>{{.Title}}</h2>
{{- if .Intro}}
<p>{{.Intro}}</p>
{{- end}}
{{- if .Detail}}
<p>Error: {{.Detail}}</p>
{{- end}}
{{- if .Lead}}
<p>{{.Lead}}</p>
{{- end}}
{{- if .Causes}}
<ul>{{range .Causes}}<li>{{.}}</li>{{end}}</ul>
{{- end}}
{{- if .Steps}}
<p><strong>To fix this:</strong></p>
<ol>{{range .Steps}}<li>{{.}}</li>{{end}}</ol>
{{- end}}
<p><a href="/login"{{if .Highlighted}} style="background: #4285f4; color: white; padding: 10px 20px; text-decoration: none; border-radius: 5px;"{{end}}>{{.ActionLabel}}</a></p>
</body>
</html>
`))

func callbackPageFor(err error) callbackPage {
	var providerError *ProviderError
	var exchangeError *ExchangeError
	switch {
	case errors.Is(err, ErrInvalidFlowState):
		return callbackPage{
			Title:       "Invalid OAuth State",
			Intro:       "The OAuth flow was not properly initiated. Please start over.",
			ActionLabel: "Click here to login again",
		}
	case errors.Is(err, ErrFlowExpired):
		return callbackPage{
			Title:       "Login Session Expired",
			Intro:       "The login session has expired. Please start over.",
			ActionLabel: "Click here to login again",
		}
	case errors.Is(err, ErrInsecureCallback):
		return callbackPage{
			Title:       "Secure Connection Required",
			Intro:       "The login callback must arrive over HTTPS. Please start over from a secure address.",
			ActionLabel: "Click here to login again",
		}
	case errors.Is(err, ErrStateMismatch):
		return callbackPage{
			Title:       "OAuth State Mismatch",
			Intro:       "Security validation failed. Please try logging in again.",
			ActionLabel: "Click here to login again",
		}
	case errors.Is(err, ErrReplayedCode):
		return callbackPage{
			Title:       "Duplicate Request",
			Intro:       "This authorization code has already been processed. Please start over.",
			ActionLabel: "Click here to login again",
		}
	case errors.As(err, &providerError):
		return callbackPage{
			Title:       "Authorization Denied",
			Intro:       "Google did not authorize the request.",
			Detail:      providerError.Code + " - " + providerError.Description,
			ActionLabel: "Click here to try again",
		}
	case errors.As(err, &exchangeError) && exchangeError.Category == ExchangeCategoryCodeExpired:
		return callbackPage{
			Title: "Authentication Expired",
			Intro: "The authorization code has expired or been used already. This can happen if:",
			Causes: []string{
				"You took too long to complete the login process",
				"You refreshed the page during authentication",
				"You clicked the login link multiple times",
				"You went back in your browser during the process",
			},
			Steps: []string{
				"Click the login button below",
				"Complete the Google authentication quickly",
				"Do NOT refresh the page or go back",
				"Do NOT click login multiple times",
			},
			ActionLabel: "Login Again",
			Highlighted: true,
		}
	case errors.As(err, &exchangeError) && exchangeError.Category == ExchangeCategoryScope:
		return callbackPage{
			Title: "Permission Scope Issue",
			Intro: "There was an issue with the requested permissions. This can happen when:",
			Causes: []string{
				"Google modifies the available permissions",
				"Your Google account has restrictions",
				"The app permissions need to be refreshed",
			},
			Steps: []string{
				"Try logging in again",
				"Make sure to accept all requested permissions",
				"If the problem persists, try using a different Google account",
			},
			ActionLabel: "Try Again",
			Highlighted: true,
		}
	default:
		return callbackPage{
			Title:  "Authentication Failed",
			Detail: userFacingDetail(err),
			Lead:   "If this problem persists, please try:",
			Causes: []string{
				"Using a different browser or incognito mode",
				"Clearing your browser cache and cookies",
				"Trying with a different Google account",
			},
			ActionLabel: "Click here to try again",
		}
	}
}

// userFacingDetail drops the dotted error codes that wrap an exchange failure.
func userFacingDetail(err error) string {
	var exchangeError *ExchangeError
	switch {
	case err == nil:
		return "unknown error"
	case errors.As(err, &exchangeError) && exchangeError.Err != nil:
		return exchangeError.Err.Error()
	default:
		return err.Error()
	}
}

func renderCallbackPage(err error) ([]byte, error) {
	var buffer bytes.Buffer
	if executeErr := callbackPageTemplate.Execute(&buffer, callbackPageFor(err)); executeErr != nil {
		return nil, executeErr
	}
	return buffer.Bytes(), nil
}
