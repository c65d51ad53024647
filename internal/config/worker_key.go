package config

type WorkerKeyStruct struct {
	PersistAnswersQueue string
	SweepLock           string
}

var WorkerKey = &WorkerKeyStruct{
	PersistAnswersQueue: "persist_answers_queue",
	SweepLock:           "deadline_sweep_lock",
}
