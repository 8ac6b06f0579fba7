package report

import (
	"bytes"
	"fmt"
	"text/template"

	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/RyoUmeyama/kickstarter-market-analyzer/internal/kickstarter"
)

// DefaultSignature closes both letter variants when no signature is configured.
const DefaultSignature = "Sales Team"

const personaJA = `あなたは日本のクラウドファンディング市場に精通した事業コンサルタントです。
海外製品の日本市場参入を支援する専門家として、データに基づいた具体的で実践的な分析を行います。
推測ではなく、可能な限り具体的な数値、製品名、URL、実績データを含めてください。
事業者が意思決定できるレベルの詳細な分析を提供してください。`

// promptData is the view rendered by the prompt templates. Numbers are
// pre-formatted with digit grouping.
type promptData struct {
	ProductName     string
	MakerName       string
	CreatorName     string
	URL             string
	Pledges         string
	FundingUSD      string
	FundingJPY      string
	Backers         string
	AveragePledge   string
	Goal            string
	Deadline        string
	Category        string
	Description     string
	BusinessContext string
	Signature       string
}

var (
	primaryPrompt = template.Must(template.New("primary").Parse(`
以下のKickstarterプロジェクトについて、日本語でメーカーに送るあいさつ文と詳細な市場分析レポートを作成してください。

---
【製品情報】
製品名: {{.ProductName}}
メーカー名: {{.MakerName}}
クリエーター名: {{.CreatorName}}
製品URL: {{.URL}}

【Kickstarterデータ】
プレッジ金額: {{.Pledges}}
総支援額: ${{.FundingUSD}} (約{{.FundingJPY}}円)
目標金額: ${{.Goal}}
終了日: {{.Deadline}}
支援者数: {{.Backers}}人
カテゴリ: {{.Category}}
製品説明: {{.Description}}

---

以下の形式で、丁寧なビジネス文体でレポートを作成してください：

{{.MakerName}} Sales Team

お世話になっております。
先日ご提案に関して、以下の貴社製品の日本市場における販売拡大可能性を調査いたしました。

{{.URL}}

フェーズ1：クラウドファンディング
フェーズ2：アマゾン等のECサイト販売
フェーズ3：日本国内主要量販店へ卸販売

【分析内容】

①日本における、クラファン及びECサイトにおける販売実績の有無
（現時点での調査結果を記載）

②日本によるクラファンにおける類似商品の販売実績額
（具体的な金額と製品例を記載）

③クラファンにおける想定販売価格帯
（Kickstarterの価格を参考に、日本市場での適正価格を提案）

④日本のクラウドファンディング実施における販売予測と、その後のフェーズを含む成功の可能性と評価
（具体的な予測金額と成功率、注意点を記載）

---

これらの結果から、貴社製品には日本市場で大きな可能性があると感じております。
日本のクラウドファンディングで成功を収めるためには、以下の事項を徹底することが重要です。
・クラウドファンディング開始前から用意周到に見込み客を獲得する。
・商品の特性を踏まえた広告を最大限行う。

もしご希望がございましたら、より詳細な市場レポートをお送りすることもできますので、
ご用命を頂ければ幸いです。
ご連絡をお待ちしております。

敬具
{{.Signature}}

---

※上記のフォーマットに沿って、【分析内容】の①〜④を具体的に記述してください。
※可能な限り具体的な数値や事例を含めてください。

【書式に関する重要な指示】
※このレポートはメール本文として直接使用されます
※Markdown形式（**太字**、###見出し、-箇条書き等）は使用しないでください
※プレーンテキスト形式で、改行と段落のみで読みやすく整形してください
※強調したい箇所は【】または「」で囲んでください
`))

	enhancedPrompt = template.Must(template.New("enhanced").Parse(`
以下のKickstarterプロジェクトについて、事業者が意思決定できるレベルの詳細な市場分析レポートを作成してください。

---
【製品情報】
製品名: {{.ProductName}}
メーカー名: {{.MakerName}}
クリエーター名: {{.CreatorName}}
製品URL: {{.URL}}

【Kickstarterデータ】
プレッジ金額: {{.Pledges}}
総支援額: ${{.FundingUSD}} (約{{.FundingJPY}}円)
目標金額: ${{.Goal}}
終了日: {{.Deadline}}
支援者数: {{.Backers}}人
平均支援額: ${{.AveragePledge}}
カテゴリ: {{.Category}}
製品説明: {{.Description}}
{{if .BusinessContext}}
【事業者からの追加情報】
{{.BusinessContext}}
{{end}}
---

以下の形式で、事業者目線で具体的かつ詳細なビジネスレポートを作成してください：

{{.MakerName}} Sales Team

お世話になっております。
先日ご提案に関して、以下の貴社製品の日本市場における販売拡大可能性を調査いたしました。

{{.URL}}

フェーズ1：クラウドファンディング
フェーズ2：アマゾン等のECサイト販売
フェーズ3：日本国内主要量販店へ卸販売

【詳細な市場分析】

①日本における、クラファン及びECサイトにおける販売実績の有無
- 類似製品がある場合、製品名とURLを列挙（最低3件）
- Makuake、CAMPFIRE、GREEN FUNDING等での実績
- Amazon.co.jp、楽天市場での販売状況と価格帯

②日本におけるクラファンにおける類似商品の販売実績額
- 最低5件の類似製品（製品名、URL、実績額、実施時期）
- 成功事例と失敗事例の両方
- 実績額の分布（最高額、最低額、中央値）と市場の飽和度

③クラファンにおける想定販売価格帯と収益性分析
- 早割価格、通常価格、リテール価格の3段階
- 競合製品の価格分析（最低3件）
- 送料・関税・手数料を含めた実質利益率と損益分岐点

④日本のクラウドファンディング実施における販売予測と成功可能性
- 保守的/標準的/楽観的の3シナリオと各シナリオの成功確率（%）
- リスク要因（最低5項目、各項目の影響度）
- 実施推奨時期とKPI（初日、1週間、最終）

⑤競合優位性分析と差別化戦略
- 本製品の3つの強みと2つの弱み
- ターゲット顧客とUSP

⑥フェーズ2・3への展開戦略
- Amazon・楽天での販売開始時期と想定売上
- 量販店への卸条件と長期的な市場展開ロードマップ

---

敬具
{{.Signature}}

---

【重要な指示】
1. 各分析項目について、具体的な数値・製品名・URLを必ず含めてください
2. 曖昧な表現は避け、定量的な根拠を示してください
3. 各価格、金額には必ず通貨記号と桁区切り（¥XX,XXX,XXX）を使用してください
4. 成功確率やリスク評価にはパーセンテージを明示してください
5. 文字数は2000-2500文字程度にまとめてください
6. Markdown形式は使用せず、プレーンテキストで整形してください
`))

	secondaryPrompt = template.Must(template.New("secondary").Parse(`
Create an English version of a market analysis report for the following Kickstarter project.
The report should be professional, business-formal, and sent to the manufacturer.

---
【Product Information】
Product Name: {{.ProductName}}
Maker: {{.MakerName}}
Creator: {{.CreatorName}}
Product URL: {{.URL}}

【Kickstarter Data】
Pledge Amounts: {{.Pledges}}
Total Funding: ${{.FundingUSD}} (approx. ¥{{.FundingJPY}})
Funding Goal: ${{.Goal}}
End Date: {{.Deadline}}
Backers: {{.Backers}}
Category: {{.Category}}
Description: {{.Description}}
{{if .BusinessContext}}
【Additional Business Context】
{{.BusinessContext}}
{{end}}
---

Please create a report in the following format:

Dear {{.MakerName}} Sales Team,

We hope this message finds you well.

Following up on our previous proposal, we have conducted market research on your product's potential for expansion in the Japanese market through the following phases:

{{.URL}}

Phase 1: Crowdfunding
Phase 2: E-commerce Sales (Amazon Japan, Rakuten, etc.)
Phase 3: Distribution to Major Japanese Retailers

【Market Analysis】

① Current Sales Status in Japan
(Report findings on existing crowdfunding and e-commerce presence)

② Similar Products on Japanese Crowdfunding Platforms
(Provide specific examples with funding amounts)

③ Recommended Pricing Strategy for Japanese Crowdfunding
(Suggest appropriate pricing based on Kickstarter data and Japanese market)

④ Sales Forecast and Success Potential
(Provide specific projections, success rate, and key considerations)

---

Based on these findings, we believe your product has significant potential in the Japanese market.

To ensure success on Japanese crowdfunding platforms, we recommend:
• Building a customer base before the campaign launch
• Implementing targeted advertising based on product characteristics

We would be happy to provide a more detailed market report and discuss this opportunity via Zoom at your convenience.

Looking forward to hearing from you.

Best regards,
{{.Signature}}

---

※Please fill in the 【Market Analysis】 section (①-④) with specific, detailed information.
※Include concrete numbers and examples where possible.
`))
)

// renderPrompt returns the user prompt for req.
func renderPrompt(req kickstarter.ReportRequest, enhanced bool, signature string) (string, error) {
	tmpl := primaryPrompt
	switch {
	case req.Variant == kickstarter.Secondary:
		tmpl = secondaryPrompt
	case enhanced:
		tmpl = enhancedPrompt
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, newPromptData(req, signature)); err != nil {
		return "", fmt.Errorf("render %s prompt: %w", tmpl.Name(), err)
	}
	return buf.String(), nil
}

func newPromptData(req kickstarter.ReportRequest, signature string) promptData {
	p := message.NewPrinter(language.English)
	r := req.Record
	maker, creator := defaultNames(req.Variant)
	if req.MakerName != "" {
		maker = req.MakerName
	}
	if req.CreatorName != "" {
		creator = req.CreatorName
	}
	if signature == "" {
		signature = DefaultSignature
	}
	backers := r.BackerCount
	if backers < 1 {
		backers = 1
	}
	return promptData{
		ProductName:     r.ProductName,
		MakerName:       maker,
		CreatorName:     creator,
		URL:             r.SourceURL,
		Pledges:         r.PledgeSummary(),
		FundingUSD:      p.Sprintf("%.2f", r.FundingTotal),
		FundingJPY:      p.Sprintf("%d", int64(r.FundingTotalConverted)),
		Backers:         p.Sprintf("%d", r.BackerCount),
		AveragePledge:   p.Sprintf("%.2f", r.FundingTotal/float64(backers)),
		Goal:            p.Sprintf("%.0f", r.GoalAmount),
		Deadline:        r.Deadline,
		Category:        r.Category,
		Description:     r.Description,
		BusinessContext: req.BusinessContext,
		Signature:       signature,
	}
}

func defaultNames(variant kickstarter.Language) (maker, creator string) {
	if variant == kickstarter.Secondary {
		return "Unknown Maker", "Unknown Creator"
	}
	return "メーカー名不明", "クリエーター名不明"
}
