package transfer

import "strings"

// GenericProvider is the fallback provider label.
const GenericProvider = "generic host"

// knownProviders is checked in order; the first fragment found wins.
var knownProviders = []struct{ fragment, label string }{
	{"hostinger", "Hostinger"},
	{"hstgr", "Hostinger"},
	{"siteground", "SiteGround"},
	{"bluehost", "Bluehost"},
	{"godaddy", "GoDaddy"},
	{"secureserver", "GoDaddy"},
	{"ionos", "IONOS"},
	{"ovh", "OVHcloud"},
	{"hetzner", "Hetzner"},
	{"your-server.de", "Hetzner"},
	{"digitalocean", "DigitalOcean"},
	{"linode", "Akamai Linode"},
	{"amazonaws", "AWS"},
	{"vultr", "Vultr"},
	{"dreamhost", "DreamHost"},
	{"namecheap", "Namecheap"},
}

// InferProvider guesses the hosting provider from a host name. The label is
// informational only.
func InferProvider(host string) string {
	h := strings.ToLower(host)
	for _, p := range knownProviders {
		if strings.Contains(h, p.fragment) {
			return p.label
		}
	}
	return GenericProvider
}
