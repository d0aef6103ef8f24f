package pipeline

import (
	"fmt"

	"github.com/mikeboe/deep-research/pkg/research"
)

// ToolName is the name the researcher is told to call.
const ToolName = "deep_research_tool"

const researcherBackstory = `You are a skilled research analyst who specializes in gathering and analyzing information from multiple sources.
You have access to powerful research tools and you ALWAYS use them to gather current, accurate information.
You never rely solely on your existing knowledge - you actively search for and verify information using your research tools.
Your expertise lies in finding relevant sources, extracting key insights, and synthesizing information into comprehensive reports.
You are thorough, methodical, and always base your conclusions on actual research findings.`

const writerBackstory = `You are a skilled content writer who specializes in creating
clear, comprehensive, and engaging research reports. You have the ability to
synthesize complex information into easily digestible content.`

// ReportSections is the outline the writer must follow.
var ReportSections = []string{
	"Executive Summary",
	"Key Findings",
	"Detailed Analysis",
	"Conclusions and Recommendations",
	"References",
}

// ResearcherSpec instructs the researcher to call the tool with the exact
// topic and parameters before writing anything.
func ResearcherSpec(q research.Query) AgentSpec {
	return AgentSpec{
		Name:      "researcher",
		Role:      "Research Analyst",
		Goal:      "Conduct thorough research on the given topic using available research tools",
		Backstory: researcherBackstory,
		Task: fmt.Sprintf(`IMPORTANT: You MUST use the %[1]s to perform actual research on the topic: %[2]s

CRITICAL INSTRUCTIONS:
1. FIRST, call the %[1]s with these exact parameters:
   - query: "%[2]s"
   - max_depth: %[3]d
   - time_limit: %[4]d
   - max_urls: %[5]d

2. THEN, analyze the research results and provide:
   - Key findings from the actual research
   - Important insights and takeaways
   - Relevant data or statistics found
   - Summary of the main points discovered

3. DO NOT just write generic statements - use the actual research data
4. Reference specific information found during the research
5. Be thorough and provide detailed analysis based on real findings

Remember: You have access to the %[1]s - USE IT to gather real information!`,
			ToolName, q.Topic, q.Params.MaxDepth, q.Params.TimeLimitSeconds, q.Params.MaxURLs),
		ExpectedOutput: "A comprehensive research report with detailed findings and insights based on actual web research.",
		UsesTool:       true,
	}
}

// WriterSpec restructures the researcher's output into the fixed outline.
func WriterSpec(topic string) AgentSpec {
	task := fmt.Sprintf("Based on the research findings about %s, create a\ncomprehensive and well-structured research report.\n\nThe report should include:\n", topic)
	for i, section := range ReportSections {
		task += fmt.Sprintf("%d. %s\n", i+1, section)
	}
	task += "\nMake sure the content is clear, professional, and well-organized."

	return AgentSpec{
		Name:           "writer",
		Role:           "Content Writer",
		Goal:           "Create comprehensive and well-structured research reports",
		Backstory:      writerBackstory,
		Task:           task,
		ExpectedOutput: "A professional research report with proper structure and formatting.",
	}
}
