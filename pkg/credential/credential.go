package credential

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// Field limits enforced by Validate.
const (
	MaxNameLength     = 30
	MaxUsernameLength = 50
	MaxPasswordLength = 50
	MaxURILength      = 100
)

var namePattern = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// State tells whether a record's payload has been loaded from the store.
type State int

const (
	StateSummary State = iota
	StateFull
)

func (s State) String() string {
	if s == StateFull {
		return "full"
	}
	return "summary"
}

// Credential is a named site or device login.
type Credential struct {
	ID       int    `json:"Id"`
	Name     string `json:"Name"`
	Username string `json:"Username"`
	Password string `json:"Password"`
	URI      string `json:"Uri"`

	// Keystroke options applied by the device when it types the login.
	UsernameEnter bool `json:"UsernameEnter"`
	PasswordEnter bool `json:"PasswordEnter"`
	UnameTabPass  bool `json:"UnameTabPass"`
	LoadAndSend   bool `json:"LoadAndSend"`

	State State `json:"-"`
}

// NewSummary returns a record that only knows its id and name.
func NewSummary(id int, name string) Credential {
	return Credential{ID: id, Name: name, State: StateSummary}
}

// IsFull reports whether the payload has been loaded.
func (c Credential) IsFull() bool {
	return c.State == StateFull
}

// Summary strips the payload, keeping id and name.
func (c Credential) Summary() Credential {
	return NewSummary(c.ID, c.Name)
}

// WithPayload copies the payload fields of p into c and marks c full.
// ID and Name of c are kept.
func (c Credential) WithPayload(p Credential) Credential {
	c.Username = p.Username
	c.Password = p.Password
	c.URI = p.URI
	c.UsernameEnter = p.UsernameEnter
	c.PasswordEnter = p.PasswordEnter
	c.UnameTabPass = p.UnameTabPass
	c.LoadAndSend = p.LoadAndSend
	c.State = StateFull
	return c
}

// Encode serializes the record to the value stored under its name.
func Encode(c Credential) (string, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encode credential %q: %w", c.Name, err)
	}
	return string(data), nil
}

// Decode parses a stored value. The returned record is full.
func Decode(value string) (Credential, error) {
	var c Credential
	if err := json.Unmarshal([]byte(value), &c); err != nil {
		return Credential{}, fmt.Errorf("decode credential: %w", err)
	}
	c.State = StateFull
	return c, nil
}

// ValidationError lists the fields that failed validation.
type ValidationError struct {
	Problems map[string]string
}

func (e ValidationError) Error() string {
	fields := make([]string, 0, len(e.Problems))
	for _, f := range []string{"name", "username", "password", "uri"} {
		if msg, ok := e.Problems[f]; ok {
			fields = append(fields, f+": "+msg)
		}
	}
	return "invalid credential: " + strings.Join(fields, "; ")
}

// ValidateName checks the rules a name must satisfy to be a store key.
func ValidateName(name string) error {
	problems := map[string]string{}
	checkName(name, problems)
	if len(problems) > 0 {
		return ValidationError{Problems: problems}
	}
	return nil
}

// Validate checks field lengths and the name charset. A password is
// required.
func Validate(c Credential) error {
	problems := map[string]string{}

	checkName(c.Name, problems)
	if c.Password == "" {
		problems["password"] = "required"
	} else if len(c.Password) > MaxPasswordLength {
		problems["password"] = fmt.Sprintf("cannot be longer than %d characters", MaxPasswordLength)
	}
	if len(c.Username) > MaxUsernameLength {
		problems["username"] = fmt.Sprintf("cannot be longer than %d characters", MaxUsernameLength)
	}
	if len(c.URI) > MaxURILength {
		problems["uri"] = fmt.Sprintf("cannot be longer than %d characters", MaxURILength)
	}

	if len(problems) > 0 {
		return ValidationError{Problems: problems}
	}
	return nil
}

func checkName(name string, problems map[string]string) {
	switch {
	case name == "":
		problems["name"] = "required"
	case len(name) > MaxNameLength:
		problems["name"] = fmt.Sprintf("cannot be longer than %d characters", MaxNameLength)
	case !namePattern.MatchString(name):
		problems["name"] = "alphanumeric characters and dashes only"
	}
}
