package schema

// The Config Store persists one document type per YAML file under
// <base>/config/. Each Document wraps the collection that file holds plus
// whatever bookkeeping its file needs (e.g. EnvironmentsDocument's current
// pointer).

// UsersDocument is the parsed form of config/users.yaml.
type UsersDocument struct {
	Users []User `yaml:"users"`
}

// DomainsDocument is the parsed form of config/domains.yaml.
type DomainsDocument struct {
	Domains []Domain `yaml:"domains"`
}

// ServicesDocument is the parsed form of config/services/services.yaml.
type ServicesDocument struct {
	Services map[string]ServiceConfig `yaml:"services"`
}

// EnvironmentsDocument is the parsed form of config/environments.yaml.
type EnvironmentsDocument struct {
	Current      string        `yaml:"current_environment"`
	Environments []Environment `yaml:"environments"`
}

// SecretsDocument is the parsed form of config/secrets.yaml.
type SecretsDocument struct {
	Bundle SecretBundle `yaml:"secrets"`
}

// FindUser returns the user with the given username, if present.
func (d *UsersDocument) FindUser(username string) (*User, bool) {
	for i := range d.Users {
		if d.Users[i].Username == username {
			return &d.Users[i], true
		}
	}
	return nil, false
}

// FindDomain returns the domain with the given name, if present.
func (d *DomainsDocument) FindDomain(name string) (*Domain, bool) {
	for i := range d.Domains {
		if d.Domains[i].Name == name {
			return &d.Domains[i], true
		}
	}
	return nil, false
}

// FindEnvironment returns the environment with the given name, if present.
func (d *EnvironmentsDocument) FindEnvironment(name string) (*Environment, bool) {
	for i := range d.Environments {
		if d.Environments[i].Name == name {
			return &d.Environments[i], true
		}
	}
	return nil, false
}
