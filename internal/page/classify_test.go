package page

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

const apacheListing = `<html><head><title>Index of /releases/</title></head>
<body><h1>Index of /releases/</h1>
<pre><a href="?C=N;O=D">Name</a> <a href="?C=M;O=A">Last modified</a> <a href="?C=S;O=A">Size</a>
<hr>
<a href="../">Parent Directory</a>                        -
<a href="10/">10/</a>            2024-03-14 10:11    -
<a href="9/">9/</a>              2022-06-01 08:30    -
</pre></body></html>`

const nginxListing = `<html><head><title>Index of /isos/</title></head>
<body><h1>Index of /isos/</h1><hr><pre>
<a href="../">../</a>
<a href="distro-10.0-amd64.iso">distro-10.0-amd64.iso</a>   14-Mar-2024 10:11   1.2G
</pre><hr></body></html>`

const marketingPage = `<html><head><title>Distro Linux - Fast and Friendly</title></head>
<body>
<nav><a href="/features">Features</a><a href="/community">Community</a></nav>
<h1>The desktop you deserve</h1>
<p>Distro Linux ships a polished desktop out of the box.</p>
<a class="btn" href="/download">Download</a>
<footer><a href="/about">About</a></footer>
</body></html>`

func TestIsDirectoryListing(t *testing.T) {
	tests := []struct {
		name string
		body string
		want bool
	}{
		{"apache index", apacheListing, true},
		{"nginx index", nginxListing, true},
		{"marketing page", marketingPage, false},
		{"empty body", "", false},
		{"not html", "ISO-8859 garbage \x00\x01", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsDirectoryListing([]byte(tt.body)))
		})
	}
}

func TestIsDirectoryListingTableStyle(t *testing.T) {
	body := `<html><head><title>Index of /pub/releases</title></head><body>
<table><tr><th>Name</th><th>Last modified</th><th>Size</th></tr>
<tr><td><a href="../">Parent Directory</a></td><td></td><td>-</td></tr>
<tr><td><a href="22.04/">22.04/</a></td><td>2022-04-21 09:00</td><td>-</td></tr>
</table></body></html>`
	assert.True(t, IsDirectoryListing([]byte(body)))
}
