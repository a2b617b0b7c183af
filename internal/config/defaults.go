package config

const (
	defaultFieldSizeMM        = 110.0
	defaultMaxVelocityMMS     = 2000.0
	defaultRapidVelocityMMS   = 5000.0
	defaultAccelerationMMS2   = 50000.0
	defaultSlewRateMMS        = 8000.0
	defaultJunctionDeviationM = 0.05
	defaultArcEpsilonMM       = 0.01
	defaultMarkDelayUS        = 150
	defaultLeadTimeUS         = 100
	defaultJumpDelayUS        = 200
	defaultSettleTauUS        = 250
	defaultSettleToleranceMM  = 0.005
	defaultSamplePeriodUS     = 10
	defaultQueueDepth         = 4096
	defaultSerialDevice       = "/dev/ttyUSB0"
	defaultDBPath             = "~/.local/share/ogcode/jobs.db"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Field: Field{
			SizeMM: defaultFieldSizeMM,
		},
		Kinematics: Kinematics{
			MaxVelocityMMS:      defaultMaxVelocityMMS,
			RapidVelocityMMS:    defaultRapidVelocityMMS,
			AccelerationMMS2:    defaultAccelerationMMS2,
			SlewRateXMMS:        defaultSlewRateMMS,
			SlewRateYMMS:        defaultSlewRateMMS,
			JunctionDeviationMM: defaultJunctionDeviationM,
			ArcEpsilonMM:        defaultArcEpsilonMM,
		},
		Laser: Laser{
			MarkDelayUS:       defaultMarkDelayUS,
			LeadTimeUS:        defaultLeadTimeUS,
			JumpDelayUS:       defaultJumpDelayUS,
			SettleTauUS:       defaultSettleTauUS,
			SettleToleranceMM: defaultSettleToleranceMM,
		},
		Emitter: Emitter{
			SamplePeriodUS: defaultSamplePeriodUS,
			QueueDepth:     defaultQueueDepth,
		},
		Serial: Serial{
			Device: defaultSerialDevice,
		},
		Storage: Storage{
			DBPath: defaultDBPath,
		},
	}
}
