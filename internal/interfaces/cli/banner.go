package cli

import (
	"fmt"
	"runtime"

	"github.com/charmbracelet/lipgloss"
)

// Version is the console release.
const Version = "0.3.0"

// brand colors
var (
	colorCyan    = lipgloss.Color("#00D7FF")
	colorDimCyan = lipgloss.Color("#00AFAF")
	colorGray    = lipgloss.Color("#6C6C6C")
	colorWhite   = lipgloss.Color("#FFFFFF")
	colorDim     = lipgloss.Color("#4E4E4E")
	colorGreen   = lipgloss.Color("#00FF87")
	colorYellow  = lipgloss.Color("#FFD75F")
	colorRed     = lipgloss.Color("#FF5F5F")
)

var logoLines = []string{
	"  █████  ██   ██  █████  ████████ ██████  ███████ ███████ ██   ██",
	" ██      ██   ██ ██   ██    ██    ██   ██ ██      ██      ██  ██ ",
	" ██      ███████ ███████    ██    ██   ██ █████   ███████ █████  ",
	" ██      ██   ██ ██   ██    ██    ██   ██ ██           ██ ██  ██ ",
	"  █████  ██   ██ ██   ██    ██    ██████  ███████ ███████ ██   ██",
}

// Gradient colors top→bottom (cyan → blue → violet)
var logoGradient = []lipgloss.Color{
	lipgloss.Color("#00FFFF"),
	lipgloss.Color("#00CFFF"),
	lipgloss.Color("#009FFF"),
	lipgloss.Color("#006FFF"),
	lipgloss.Color("#5F5FFF"),
}

// BannerInfo carries what the banner shows about the session.
type BannerInfo struct {
	BaseURL string
	Admin   string
	Org     string
	Live    bool
	Unread  int
}

// RenderBanner returns the styled banner with gradient logo
func RenderBanner(info BannerInfo, width int) string {
	labelStyle := lipgloss.NewStyle().Foreground(colorGray)
	valueStyle := lipgloss.NewStyle().Foreground(colorWhite)
	versionStyle := lipgloss.NewStyle().Foreground(colorDimCyan)

	var logo string
	if width >= 66 {
		for i, line := range logoLines {
			c := logoGradient[i%len(logoGradient)]
			logo += lipgloss.NewStyle().Foreground(c).Bold(true).Render(line) + "\n"
		}
	} else {
		logo = lipgloss.NewStyle().Foreground(colorCyan).Bold(true).Render(" ◆  C H A T D E S K") + "\n"
	}

	ver := versionStyle.Render(fmt.Sprintf("  v%s", Version))

	line := func(label, value string) string {
		return fmt.Sprintf("  %s %s", labelStyle.Render(fmt.Sprintf("%-7s", label)), value)
	}

	server := info.BaseURL
	if server == "" {
		server = "(not configured)"
	}
	live := lipgloss.NewStyle().Foreground(colorRed).Render("offline")
	if info.Live {
		live = lipgloss.NewStyle().Foreground(colorGreen).Render("connected")
	}
	admin := "(not signed in)"
	if info.Admin != "" {
		admin = info.Admin
		if info.Org != "" {
			admin += " @ " + info.Org
		}
	}

	return fmt.Sprintf("\n%s%s\n\n%s\n%s\n%s\n%s\n%s\n",
		logo, ver,
		line("Server", valueStyle.Render(server)),
		line("Admin", valueStyle.Render(admin)),
		line("Live", live),
		line("Unread", lipgloss.NewStyle().Foreground(colorYellow).Render(fmt.Sprintf("%d", info.Unread))),
		line("Env", labelStyle.Render(runtime.GOOS+"/"+runtime.GOARCH)),
	)
}
