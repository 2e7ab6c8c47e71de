package ghapp

// Installation is a binding of an application to a single account.
type Installation struct {
	// Account is the login of the user or organization the application is installed for.
	Account string

	ID string
}

// FindInstallation returns the first installation that belongs to account.
func FindInstallation(installations []Installation, account string) (Installation, bool) {
	for _, installation := range installations {
		if installation.Account == account {
			return installation, true
		}
	}

	return Installation{}, false
}
