package models

// UIConfig is the per-deployment configuration served to the front end by get_config.
type UIConfig struct {
	Debug              bool   `json:"debug" yaml:"-"`
	AllowLLMToSeeData  bool   `json:"allow_llm_to_see_data" yaml:"-"`
	Chart              bool   `json:"chart" yaml:"chart"`
	Logo               string `json:"logo" yaml:"logo"`
	Title              string `json:"title" yaml:"title"`
	Subtitle           string `json:"subtitle" yaml:"subtitle"`
	ShowTrainingData   bool   `json:"show_training_data" yaml:"show_training_data"`
	SuggestedQuestions bool   `json:"suggested_questions" yaml:"suggested_questions"`
	SQL                bool   `json:"sql" yaml:"sql"`
	Table              bool   `json:"table" yaml:"table"`
	CSVDownload        bool   `json:"csv_download" yaml:"csv_download"`
	RedrawChart        bool   `json:"redraw_chart" yaml:"redraw_chart"`
	AutoFixSQL         bool   `json:"auto_fix_sql" yaml:"auto_fix_sql"`
	AskResultsCorrect  bool   `json:"ask_results_correct" yaml:"ask_results_correct"`
	FollowupQuestions  bool   `json:"followup_questions" yaml:"followup_questions"`
	Summarization      bool   `json:"summarization" yaml:"summarization"`
	FunctionGeneration bool   `json:"function_generation" yaml:"function_generation"`
	Version            string `json:"version" yaml:"-"`
}
