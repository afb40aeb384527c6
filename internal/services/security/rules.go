package security

import (
	"regexp"

	"github.com/shihanpietersz/migration-manager/internal/models"
)

// Rule categories. Recommendations are derived from which categories fired,
// so every rule must name one.
const (
	categoryDynamicExec    = "dynamic-execution"
	categoryDownload       = "download"
	categoryDestructive    = "destructive"
	categoryObfuscation    = "obfuscation"
	categoryMining         = "cryptomining"
	categoryPersistence    = "persistence"
	categoryDefenseEvasion = "defense-evasion"
	categoryCredentials    = "credentials"
	categoryNetwork        = "network"
	categorySystemControl  = "system-control"
)

type rule struct {
	id          string
	category    string
	severity    models.IssueSeverity
	pattern     *regexp.Regexp
	description string
}

// powershellRules apply to scripts with the powershell dialect. Order is
// significant only for deterministic issue ordering within a line.
var powershellRules = []rule{
	{
		id:          "ps/download-exec",
		category:    categoryDownload,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`(?i)(DownloadString|DownloadFile|Invoke-WebRequest|iwr\s)[^\n|]*\|\s*(iex|Invoke-Expression)`),
		description: "Downloaded content is piped directly into the interpreter",
	},
	{
		id:          "ps/remove-system-path",
		category:    categoryDestructive,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`(?i)Remove-Item\s+[^\n]*-Recurse[^\n]*-Force\s+[^\n]*(C:\\(Windows|Program Files)|\$env:SystemRoot|\\\*)`),
		description: "Recursive forced deletion of a system path",
	},
	{
		id:          "ps/format-volume",
		category:    categoryDestructive,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`(?i)\b(Format-Volume|Clear-Disk|Initialize-Disk)\b`),
		description: "Disk or volume is formatted or wiped",
	},
	{
		id:          "ps/defender-disable",
		category:    categoryDefenseEvasion,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`(?i)(Set-MpPreference\s+[^\n]*-Disable|Add-MpPreference\s+[^\n]*-Exclusion)`),
		description: "Windows Defender protection is disabled or bypassed",
	},
	{
		id:          "ps/credential-dump",
		category:    categoryCredentials,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`(?i)(Invoke-Mimikatz|sekurlsa|lsass\.exe[^\n]*MiniDump|procdump[^\n]*lsass)`),
		description: "Credential dumping tooling referenced",
	},
	{
		id:          "ps/invoke-expression",
		category:    categoryDynamicExec,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`(?i)\b(Invoke-Expression|iex)\b`),
		description: "Dynamic execution of generated script text",
	},
	{
		id:          "ps/encoded-command",
		category:    categoryObfuscation,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`(?i)-(EncodedCommand|enc)\b`),
		description: "Base64-encoded command payload",
	},
	{
		id:          "ps/execution-policy-bypass",
		category:    categoryDefenseEvasion,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`(?i)Set-ExecutionPolicy\s+[^\n]*\b(Bypass|Unrestricted)\b`),
		description: "Script execution policy is weakened",
	},
	{
		id:          "ps/registry-run-key",
		category:    categoryPersistence,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`(?i)(Set-ItemProperty|New-ItemProperty|reg\s+add)\s+[^\n]*\\(Run|RunOnce)\b`),
		description: "Registry run key modified for persistence",
	},
	{
		id:          "ps/stop-critical-service",
		category:    categorySystemControl,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`(?i)Stop-Service\s+[^\n]*-Force`),
		description: "Service is force-stopped",
	},
	{
		id:          "ps/webclient",
		category:    categoryDownload,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`(?i)New-Object\s+(System\.)?Net\.WebClient`),
		description: "Raw WebClient download",
	},
	{
		id:          "ps/scheduled-task",
		category:    categoryPersistence,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`(?i)\b(Register-ScheduledTask|schtasks(\.exe)?\s+/create)\b`),
		description: "Scheduled task created",
	},
	{
		id:          "ps/restart-computer",
		category:    categorySystemControl,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`(?i)\b(Restart-Computer|Stop-Computer)\b`),
		description: "Host is restarted or shut down",
	},
	{
		id:          "ps/invoke-webrequest",
		category:    categoryDownload,
		severity:    models.SeverityInfo,
		pattern:     regexp.MustCompile(`(?i)\b(Invoke-WebRequest|Invoke-RestMethod)\b`),
		description: "Outbound web request",
	},
}

// bashRules apply to scripts with the bash dialect.
var bashRules = []rule{
	{
		id:          "sh/rm-root",
		category:    categoryDestructive,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`rm\s+(-[a-zA-Z]*r[a-zA-Z]*f|-[a-zA-Z]*f[a-zA-Z]*r)[a-zA-Z]*\s+("/"|/\s|/$|/\*|--no-preserve-root)`),
		description: "Recursive forced deletion of the filesystem root",
	},
	{
		id:          "sh/dd-device",
		category:    categoryDestructive,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`\bdd\s+[^\n]*of=/dev/(sd|nvme|vd|xvd|hd)`),
		description: "Raw write to a block device",
	},
	{
		id:          "sh/mkfs",
		category:    categoryDestructive,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`\bmkfs(\.[a-z0-9]+)?\b`),
		description: "Filesystem is reformatted",
	},
	{
		id:          "sh/fork-bomb",
		category:    categoryDestructive,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`),
		description: "Fork bomb",
	},
	{
		id:          "sh/download-exec",
		category:    categoryDownload,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`\b(curl|wget)\b[^\n|]*\|\s*(sudo\s+)?(ba)?sh\b`),
		description: "Downloaded content is piped directly into a shell",
	},
	{
		id:          "sh/shadow-write",
		category:    categoryCredentials,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`>>?\s*/etc/(shadow|passwd|sudoers)\b`),
		description: "Credential or privilege file is modified",
	},
	{
		id:          "sh/base64-exec",
		category:    categoryObfuscation,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`base64\s+(-d|--decode)[^\n|]*\|\s*(ba)?sh\b`),
		description: "Base64-decoded payload is executed",
	},
	{
		id:          "sh/eval",
		category:    categoryDynamicExec,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`\beval\s`),
		description: "Dynamic execution of generated script text",
	},
	{
		id:          "sh/iptables-flush",
		category:    categoryDefenseEvasion,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`\biptables\s+(-F|--flush)\b`),
		description: "Firewall rules are flushed",
	},
	{
		id:          "sh/chmod-world-writable",
		category:    categorySystemControl,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`chmod\s+(-R\s+)?777\s+/(\s|$|[a-z])`),
		description: "System path made world-writable",
	},
	{
		id:          "sh/crontab",
		category:    categoryPersistence,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`\b(crontab\s+-|/etc/cron)`),
		description: "Cron entries modified",
	},
	{
		id:          "sh/history-clear",
		category:    categoryDefenseEvasion,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`\b(history\s+-c|unset\s+HISTFILE|shred\s+[^\n]*bash_history)`),
		description: "Shell history is cleared",
	},
	{
		id:          "sh/shutdown",
		category:    categorySystemControl,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`\b(shutdown|reboot|halt|poweroff)\b`),
		description: "Host is restarted or shut down",
	},
	{
		id:          "sh/download",
		category:    categoryDownload,
		severity:    models.SeverityInfo,
		pattern:     regexp.MustCompile(`\b(curl|wget)\s`),
		description: "Outbound download",
	},
}

// universalRules apply regardless of dialect.
var universalRules = []rule{
	{
		id:          "any/miner",
		category:    categoryMining,
		severity:    models.SeverityCritical,
		pattern:     regexp.MustCompile(`(?i)\b(xmrig|minerd|cryptonight|stratum\+tcp|nicehash|coinhive)\b`),
		description: "Cryptomining signature",
	},
	{
		id:          "any/wallet-address",
		category:    categoryMining,
		severity:    models.SeverityDanger,
		pattern:     regexp.MustCompile(`\b(4[0-9AB][1-9A-HJ-NP-Za-km-z]{93}|0x[a-fA-F0-9]{40}|[13][a-km-zA-HJ-NP-Z1-9]{25,34})\b`),
		description: "Cryptocurrency wallet address literal",
	},
	{
		id:          "any/obfuscated-identifier",
		category:    categoryObfuscation,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`\$[a-zA-Z][a-zA-Z0-9]{24,}\b`),
		description: "Long randomized identifier suggests obfuscated code",
	},
	{
		id:          "any/ip-port",
		category:    categoryNetwork,
		severity:    models.SeverityWarning,
		pattern:     regexp.MustCompile(`\b(\d{1,3}\.){3}\d{1,3}:\d{2,5}\b`),
		description: "Bare IP:port endpoint",
	},
}

// recommendationOrder fixes the output order so scans stay deterministic.
var recommendationOrder = []string{
	categoryDestructive,
	categoryDownload,
	categoryDynamicExec,
	categoryObfuscation,
	categoryMining,
	categoryPersistence,
	categoryDefenseEvasion,
	categoryCredentials,
	categoryNetwork,
	categorySystemControl,
}

var recommendationText = map[string]string{
	categoryDestructive:    "Review destructive operations; ensure targets are scoped and backed up before running",
	categoryDownload:       "Verify all download sources and pin checksums for fetched content",
	categoryDynamicExec:    "Avoid dynamic execution of generated strings; inline the commands instead",
	categoryObfuscation:    "Deobfuscate encoded or randomized sections so reviewers can audit the script",
	categoryMining:         "Remove cryptomining related content; it is not permitted on managed hosts",
	categoryPersistence:    "Document why the script installs persistent tasks or startup entries",
	categoryDefenseEvasion: "Do not disable security tooling or clear audit trails from scripts",
	categoryCredentials:    "Never read or modify credential stores from an orchestrated script",
	categoryNetwork:        "Replace hard-coded endpoints with named hosts or parameters",
	categorySystemControl:  "Confirm that restarting or reconfiguring the host is intended",
}
