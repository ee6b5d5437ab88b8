package honeypot

// Profile describes how a listener emulates a service
type Profile struct {
	// Banner is sent as soon as the connection is accepted
	Banner []byte
	// ReadSize is the most bytes read from the client
	ReadSize int
	// PayloadRunes truncates the stored payload; zero keeps everything read
	PayloadRunes int
	// Risk is the risk score recorded with the attack event
	Risk int
	// Reply is written after the client data has been read
	Reply []byte
}

const adminPortalPage = "<html><body><h1>Admin Portal</h1></body></html>"

var profiles = map[string]Profile{
	"ssh": {
		Banner:   []byte("SSH-2.0-OpenSSH_8.2p1 Ubuntu-4ubuntu0.3\r\n"),
		ReadSize: 1024,
		Risk:     60,
		Reply:    []byte("Permission denied, please try again.\r\n"),
	},
	"http": {
		ReadSize:     4096,
		PayloadRunes: 200,
		Risk:         40,
		Reply: []byte("HTTP/1.1 200 OK\r\nContent-Type: text/html\r\nConnection: close\r\n\r\n" +
			adminPortalPage),
	},
}

var genericProfile = Profile{ReadSize: 1024, Risk: 30}

// ProfileFor returns the emulation profile for handler; unknown handlers
// accept data silently.
func ProfileFor(handler string) Profile {
	if p, ok := profiles[handler]; ok {
		return p
	}
	return genericProfile
}
