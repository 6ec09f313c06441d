package observability

const (
	AttrServiceName    = "service.name"
	AttrRunID          = "pmcrew.run.id"
	AttrCrewTasks      = "pmcrew.crew.tasks"
	AttrAgentRole      = "pmcrew.agent.role"
	AttrTaskIndex      = "pmcrew.task.index"
	AttrToolName       = "pmcrew.tool.name"
	AttrLLMModel       = "gen_ai.request.model"
	AttrLLMTokensIn    = "gen_ai.usage.input_tokens"
	AttrLLMTokensOut   = "gen_ai.usage.output_tokens"
	AttrLLMFinish      = "gen_ai.response.finish_reason"
	AttrErrorType      = "error.type"
	AttrHTTPMethod     = "http.request.method"
	AttrHTTPRoute      = "http.route"
	AttrHTTPStatusCode = "http.response.status_code"

	SpanCrewKickoff   = "crew.kickoff"
	SpanTaskExecution = "crew.task"
	SpanLLMCall       = "agent.llm_call"
	SpanToolExecution = "agent.tool_execution"
	SpanHTTPRequest   = "http.request"

	DefaultServiceName  = "pmcrew"
	DefaultSamplingRate = 1.0
	DefaultOTLPEndpoint = "localhost:4317"
	DefaultMetricsPath  = "/metrics"
)
