package scripts

import (
	"context"
	"fmt"
	"time"

	"github.com/shihanpietersz/migration-manager/internal/models"
	"github.com/shihanpietersz/migration-manager/internal/utils"
)

// builtInSeed is the catalog of scripts shipped with the service. They are
// created once at startup, marked built-in and pre-approved; updates and
// deletes are rejected at the service layer.
var builtInSeed = []models.CreateScriptRequest{
	{
		Name:        "windows-disk-usage",
		Description: "Reports free space per logical disk",
		Dialect:     models.DialectPowerShell,
		TargetOS:    models.OSWindows,
		Content: `Get-CimInstance Win32_LogicalDisk -Filter "DriveType=3" |
  Select-Object DeviceID, @{n='FreeGB';e={[math]::Round($_.FreeSpace/1GB,1)}}, @{n='SizeGB';e={[math]::Round($_.Size/1GB,1)}} |
  Format-Table -AutoSize`,
		TimeoutSeconds: 120,
	},
	{
		Name:        "windows-pending-reboot",
		Description: "Checks the registry markers that indicate a pending reboot",
		Dialect:     models.DialectPowerShell,
		TargetOS:    models.OSWindows,
		Content: `$paths = @('HKLM:\SOFTWARE\Microsoft\Windows\CurrentVersion\Component Based Servicing\RebootPending', 'HKLM:\SOFTWARE\Microsoft\Windows\CurrentVersion\WindowsUpdate\Auto Update\RebootRequired')
$pending = $paths | Where-Object { Test-Path $_ }
if ($pending) { Write-Output "REBOOT PENDING"; exit 1 } else { Write-Output "OK"; exit 0 }`,
		TimeoutSeconds: 120,
	},
	{
		Name:        "windows-service-status",
		Description: "Prints the state of a named Windows service",
		Dialect:     models.DialectPowerShell,
		TargetOS:    models.OSWindows,
		Parameters: []models.ScriptParameter{
			{Name: "ServiceName", Description: "Service to inspect", Required: true},
		},
		Content: `param([string]$ServiceName)
$svc = Get-Service -Name $ServiceName -ErrorAction SilentlyContinue
if (-not $svc) { Write-Output "NOT FOUND"; exit 1 }
Write-Output "$($svc.Name): $($svc.Status)"
if ($svc.Status -ne 'Running') { exit 1 }`,
		TimeoutSeconds: 120,
	},
	{
		Name:           "linux-disk-usage",
		Description:    "Reports filesystem usage for real mounts",
		Dialect:        models.DialectBash,
		TargetOS:       models.OSLinux,
		Content:        `df -h -x tmpfs -x devtmpfs -x overlay`,
		TimeoutSeconds: 120,
	},
	{
		Name:        "linux-service-status",
		Description: "Prints the systemd state of a named unit",
		Dialect:     models.DialectBash,
		TargetOS:    models.OSLinux,
		Parameters: []models.ScriptParameter{
			{Name: "unit", Description: "Systemd unit to inspect", Required: true},
		},
		Content: `state=$(systemctl is-active "$unit" 2>/dev/null)
echo "$unit: ${state:-unknown}"
[ "$state" = "active" ]`,
		TimeoutSeconds: 120,
	},
	{
		Name:           "linux-uptime-load",
		Description:    "Prints uptime and load averages",
		Dialect:        models.DialectBash,
		TargetOS:       models.OSLinux,
		Content:        `uptime`,
		TimeoutSeconds: 60,
	},
}

// SeedBuiltIn inserts any missing built-in scripts. Existing rows are left
// alone so operator-side approvals and metadata survive restarts.
func (s *scriptService) SeedBuiltIn(ctx context.Context) error {
	for i := range builtInSeed {
		seed := builtInSeed[i]

		existing, err := s.scriptRepo.GetByName(ctx, seed.Name)
		if err != nil {
			return fmt.Errorf("failed to check built-in script %s: %w", seed.Name, err)
		}
		if existing != nil {
			continue
		}

		scan := s.scanner.Scan(seed.Content, seed.Dialect)
		now := time.Now()
		script := &models.ScriptEntity{
			Name:           seed.Name,
			Description:    seed.Description,
			Content:        seed.Content,
			Dialect:        seed.Dialect,
			TargetOS:       seed.TargetOS,
			TimeoutSeconds: seed.TimeoutSeconds,
			IsBuiltIn:      true,
			ApprovedBy:     utils.ToPointer("system"),
			ApprovedAt:     &now,
		}
		if err := applyScan(script, scan); err != nil {
			return err
		}
		if err := setParameters(script, seed.Parameters); err != nil {
			return err
		}
		if err := s.scriptRepo.Create(ctx, script); err != nil {
			return fmt.Errorf("failed to seed built-in script %s: %w", seed.Name, err)
		}
		s.log.WithField("name", seed.Name).Info("Seeded built-in script")
	}
	return nil
}
