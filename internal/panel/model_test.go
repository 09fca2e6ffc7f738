package panel

import (
	"testing"
)

func chain(tasks ...Task) []Task { return tasks }

func TestValidateChain(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		tasks   []Task
		wantErr bool
	}{
		{
			name: "single restart",
			tasks: chain(
				Task{Sequence: 0, Action: ActionPowerRestart, Trigger: TriggerTimeDelay},
			),
		},
		{
			name: "backup then restart on completion",
			tasks: chain(
				Task{Sequence: 0, Action: ActionBackup, Trigger: TriggerTimeDelay, TimeOffset: 30},
				Task{Sequence: 1, Action: ActionPowerRestart, Trigger: TriggerOnCompletion},
			),
		},
		{
			name: "command with payload",
			tasks: chain(
				Task{Sequence: 0, Action: ActionCommand, Payload: "say restarting soon", Trigger: TriggerTimeDelay},
			),
		},
		{
			name:    "empty chain",
			tasks:   nil,
			wantErr: true,
		},
		{
			name: "first task on_completion",
			tasks: chain(
				Task{Sequence: 0, Action: ActionBackup, Trigger: TriggerOnCompletion},
			),
			wantErr: true,
		},
		{
			name: "gap in sequence",
			tasks: chain(
				Task{Sequence: 0, Action: ActionBackup, Trigger: TriggerTimeDelay},
				Task{Sequence: 2, Action: ActionPowerStop, Trigger: TriggerOnCompletion},
			),
			wantErr: true,
		},
		{
			name: "duplicate sequence",
			tasks: chain(
				Task{Sequence: 0, Action: ActionBackup, Trigger: TriggerTimeDelay},
				Task{Sequence: 0, Action: ActionPowerStop, Trigger: TriggerOnCompletion},
			),
			wantErr: true,
		},
		{
			name: "command without payload",
			tasks: chain(
				Task{Sequence: 0, Action: ActionCommand, Trigger: TriggerTimeDelay},
			),
			wantErr: true,
		},
		{
			name: "payload on power action",
			tasks: chain(
				Task{Sequence: 0, Action: ActionPowerStart, Payload: "oops", Trigger: TriggerTimeDelay},
			),
			wantErr: true,
		},
		{
			name: "negative offset",
			tasks: chain(
				Task{Sequence: 0, Action: ActionBackup, Trigger: TriggerTimeDelay, TimeOffset: -1},
			),
			wantErr: true,
		},
		{
			name: "unknown action",
			tasks: chain(
				Task{Sequence: 0, Action: Action("reboot_universe"), Trigger: TriggerTimeDelay},
			),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateChain(tt.tasks)
			if tt.wantErr && err == nil {
				t.Fatal("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}

func TestScheduleValidate(t *testing.T) {
	t.Parallel()
	good := Schedule{
		ID:             "sched-1",
		ServerID:       "srv-1",
		Name:           "nightly backup",
		CronExpression: "0 4 * * *",
		IsActive:       true,
		Tasks: chain(
			Task{Sequence: 0, Action: ActionBackup, Trigger: TriggerTimeDelay},
		),
	}
	if err := good.Validate(); err != nil {
		t.Fatalf("valid schedule rejected: %v", err)
	}

	badCron := good
	badCron.CronExpression = "0 4 1 * *"
	if err := badCron.Validate(); err == nil {
		t.Fatal("schedule with restricted day-of-month accepted")
	}

	noName := good
	noName.Name = ""
	if err := noName.Validate(); err == nil {
		t.Fatal("schedule without name accepted")
	}
}

func TestActionPowerKind(t *testing.T) {
	t.Parallel()
	tests := []struct {
		action Action
		kind   PowerKind
	}{
		{ActionPowerStart, PowerStart},
		{ActionPowerStop, PowerStop},
		{ActionPowerRestart, PowerRestart},
	}
	for _, tt := range tests {
		if !tt.action.IsPower() {
			t.Fatalf("%s not recognized as power action", tt.action)
		}
		if got := tt.action.PowerKind(); got != tt.kind {
			t.Fatalf("PowerKind(%s) = %s, want %s", tt.action, got, tt.kind)
		}
	}
	if ActionBackup.IsPower() || ActionCommand.IsPower() {
		t.Fatal("non-power action reported as power")
	}
}
