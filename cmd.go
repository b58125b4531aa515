package main

type Command struct {
	Config   string `help:"config file path" short:"c" env:"BACKUP_CONFIG"`
	Database string `help:"metadata database path, defaults to metadata.db in the backup root" short:"d" env:"BACKUP_METADATA_DB"`

	Version struct{} `cmd:"" help:"Print version information."`
	Run     struct {
		Type        string `arg:"" help:"backup type: database, files, config or full"`
		Compress    string `arg:"" optional:"" help:"compress=true or compress=false, defaults to the config"`
		Description string `help:"free text stored with the backup"`
		Notify      bool   `help:"notify when the backup fails"`
	} `cmd:"" help:"Run a backup now."`
	Schedule struct {
		List struct{} `cmd:"" help:"List scheduled backups."`
		Run  struct{} `cmd:"" help:"Run the scheduled backups that are due."`
		Add  struct {
			Type        string `arg:"" help:"backup type: database, files, config or full"`
			Frequency   string `arg:"" help:"daily, weekly or monthly"`
			At          string `help:"first run as RFC3339 time, its clock time is kept for later runs"`
			Compress    string `help:"true or false, defaults to the config"`
			Description string `help:"free text stored with every backup"`
			Notify      bool   `help:"notify when a scheduled backup fails"`
		} `cmd:"" help:"Schedule a backup."`
		Update struct {
			ID          string `arg:"" help:"schedule id"`
			Frequency   string `arg:"" help:"daily, weekly or monthly"`
			Compress    string `help:"true or false, keeps the current value when empty"`
			Description string `help:"free text stored with every backup"`
			Notify      string `help:"true or false, keeps the current value when empty"`
		} `cmd:"" help:"Change the frequency and options of a scheduled backup."`
		Remove struct {
			ID string `arg:"" help:"schedule id"`
		} `cmd:"" help:"Remove a scheduled backup."`
		Enable struct {
			ID string `arg:"" help:"schedule id"`
		} `cmd:"" help:"Enable a scheduled backup."`
		Disable struct {
			ID string `arg:"" help:"schedule id"`
		} `cmd:"" help:"Disable a scheduled backup."`
		Init struct{} `cmd:"" help:"Create the schedules of the config file when none exist."`
	} `cmd:"" help:"Manage scheduled backups."`
	Recovery struct {
		List struct {
			Limit int  `help:"maximum number of backups to list" default:"20"`
			All   bool `help:"include running and failed backups"`
		} `cmd:"" help:"List backups available for restore."`
		Verify struct {
			ID string `arg:"" help:"backup id"`
		} `cmd:"" help:"Check that the files of a backup are intact."`
		Restore struct {
			ID             string `arg:"" help:"backup id"`
			Force          bool   `help:"do not ask for confirmation and skip verification"`
			NoSafetyBackup bool   `help:"do not back up the database before restoring"`
		} `cmd:"" help:"Restore a backup into the live application."`
		Delete struct {
			ID    string `arg:"" help:"backup id"`
			Force bool   `help:"delete even if files are missing or the backup is running"`
		} `cmd:"" help:"Delete a backup and its files."`
		Cleanup struct {
			DryRun bool `help:"only list the backups that would be deleted"`
		} `cmd:"" help:"Delete backups outside the retention policy."`
		Audit struct {
			Limit int `help:"maximum number of events to list" default:"20"`
		} `cmd:"" help:"List audited operations."`
	} `cmd:"" help:"Verify, restore and delete backups."`
	Status struct {
		Limit int `help:"number of recent backups and upcoming runs to show" default:"5"`
	} `cmd:"" help:"Show schedules, recent backups and disk usage."`
	Daemon struct{} `cmd:"" help:"Run due scheduled backups periodically."`
}
