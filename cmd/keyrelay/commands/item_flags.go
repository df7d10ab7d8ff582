package commands

import (
	"github.com/spf13/cobra"
	"github.com/systmms/keyrelay/pkg/credential"
)

// itemFlags are the field flags shared by add and edit.
type itemFlags struct {
	username      string
	password      string
	uri           string
	usernameEnter bool
	passwordEnter bool
	tab           bool
	loadAndSend   bool
}

func (f *itemFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.username, "username", "", "Login user name")
	cmd.Flags().StringVar(&f.password, "password", "", "Login password")
	cmd.Flags().StringVar(&f.uri, "uri", "", "Site address")
	cmd.Flags().BoolVar(&f.usernameEnter, "username-enter", false, "Press Enter after typing the user name")
	cmd.Flags().BoolVar(&f.passwordEnter, "password-enter", false, "Press Enter after typing the password")
	cmd.Flags().BoolVar(&f.tab, "tab", false, "Press Tab between user name and password")
	cmd.Flags().BoolVar(&f.loadAndSend, "load-and-send", false, "Type the login as soon as the device receives it")
}

// apply copies the flags the user set onto c.
func (f *itemFlags) apply(cmd *cobra.Command, c *credential.Credential) {
	changed := cmd.Flags().Changed
	if changed("username") {
		c.Username = f.username
	}
	if changed("password") {
		c.Password = f.password
	}
	if changed("uri") {
		c.URI = f.uri
	}
	if changed("username-enter") {
		c.UsernameEnter = f.usernameEnter
	}
	if changed("password-enter") {
		c.PasswordEnter = f.passwordEnter
	}
	if changed("tab") {
		c.UnameTabPass = f.tab
	}
	if changed("load-and-send") {
		c.LoadAndSend = f.loadAndSend
	}
}
